// 版权所有 2024 Personacraft Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package middleware rewrites an outgoing ChatRequest before it reaches a
provider, for cleanup that doesn't belong in any one provider's own
request-building code.

# Core types

  - RequestRewriter: an interface with Rewrite and Name, applied to a
    ChatRequest in place.
  - RewriterChain: runs a sequence of RequestRewriters in order.
  - EmptyToolsCleaner: a RequestRewriter that clears ToolChoice when Tools
    is empty, since some providers reject a tool_choice without tools
    outright rather than ignore it.
*/
package middleware
