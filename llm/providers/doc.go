/*
Package providers holds the adapter-side plumbing shared by concrete LLM
backends (openai, openaicompat): request/response conversion, HTTP error
mapping, and the base configuration fields every backend embeds.

# Core types

  - BaseProviderConfig — fields every provider config embeds (APIKey,
    BaseURL, Model, Timeout)
  - OpenAIConfig — BaseProviderConfig plus OpenAI-specific knobs
    (Organization, UseResponsesAPI)
  - OpenAICompat* — the request/response/tool-call shapes of an
    OpenAI-compatible chat-completions endpoint

# Core functions

  - MapHTTPError — maps an HTTP status code to a semantic llm.Error
    (with the Retryable flag set appropriately)
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI — message/tool format
    conversion into the OpenAI-compatible wire shape
  - ToLLMChatResponse — converts an OpenAI-compatible response into
    llm.ChatResponse
  - ChooseModel — picks a model by priority (request > default > fallback)
  - ListModelsOpenAICompat — generic model-listing call
*/
package providers
