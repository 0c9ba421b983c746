/*
Package llm provides the LLM provider abstraction used by the persona
pipeline.

# Overview

The llm package defines one Provider interface that hides a backend's wire
protocol, a ResilientProvider wrapper that adds retries and a circuit
breaker around any Provider, and the PersonaAdapter that turns a brief into
a persona draft through a Provider. The package has no multi-provider
router, no response cache, and no metrics or tracing wrapper.

# Provider Interface

The core Provider interface defines the contract for all LLM providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Supported Providers

Two provider packages implement the interface:

  - llm/providers/openai: OpenAI Chat Completions, or the Responses API
    when OpenAIConfig.UseResponsesAPI is set.
  - llm/providers/openaicompat: any endpoint that speaks the OpenAI Chat
    Completions format, configured by name, base URL and model.

# Usage

Basic usage with a single provider:

	provider := openai.NewOpenAIProvider(providers.OpenAIConfig{
	    BaseProviderConfig: providers.BaseProviderConfig{
	        APIKey: "your-api-key",
	    },
	}, logger)

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	})

# Streaming

Both providers support streaming responses:

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Err != nil {
	        log.Printf("Error: %v", chunk.Err)
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Retry and Resilience

Retry with exponential backoff and a circuit breaker, wrapped around any
Provider:

	resilientProvider := llm.NewResilientProvider(provider, &llm.ResilientConfig{
	    RetryPolicy: &llm.RetryPolicy{
	        MaxRetries:     3,
	        InitialBackoff: 100 * time.Millisecond,
	        MaxBackoff:     10 * time.Second,
	        Multiplier:     2.0,
	    },
	    CircuitBreaker: llm.DefaultCircuitBreakerConfig(),
	}, logger)

# Tool Calling

Support for native function calling:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {
	            Name:        "get_weather",
	            Description: "Get current weather for a location",
	            Parameters:  weatherParamsSchema,
	        },
	    },
	})

# Error Handling

The package defines structured error codes:

	const (
	    ErrInvalidRequest      ErrorCode = "invalid_request"
	    ErrUnauthorized        ErrorCode = "unauthorized"
	    ErrRateLimit           ErrorCode = "rate_limit"
	    ErrContextTooLong      ErrorCode = "context_too_long"
	    ErrServiceUnavailable  ErrorCode = "service_unavailable"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}

# Related Types

For retry and circuit-breaking wrapped around a raw Provider, see
ResilientProvider in resilience.go, which delegates to the shared
retry.Engine and breaker.Breaker used by the coordination core's scheduler.
For persona-specific generation on top of a Provider, see PersonaAdapter in
persona.go.

See the subpackages for additional functionality:
  - llm/middleware: request rewriting applied before a provider call
  - llm/providers/*: provider-specific implementations
*/
package llm
