/*
Package providers sends chat completion requests to the supported
OpenAI-compatible backends.

# Senders

Every backend implements Sender:

	type Sender interface {
		Name() models.Provider
		Send(ctx context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error)
		Stream(ctx context.Context, req *convert.ChatRequest) (io.ReadCloser, error)
	}

Senders do not translate. The request arrives already converted by package
convert and trimmed by package budget; the streamed body is handed back raw
for package bridge to decode.

# Outbound bodies

Each sender encodes a typed body whose fields are exactly what its backend
accepts:

  - lmstudio: model, messages, stream, temperature, top_p, max_tokens, stop,
    tools, tool_choice.
  - poe, openrouter: the lmstudio set plus stream_options,
    max_completion_tokens, parallel_tool_calls, n, logprobs,
    frequency_penalty, presence_penalty, logit_bias, extra_body.

cache_control is removed from messages and content parts, and reasoning is
never sent. tool_choice and parallel_tool_calls are dropped when the request
carries no tools.

# Transport

All senders share one *http.Client from NewHTTPClient:

  - proxies come from config.Config.ProxyFunc, honoring no_proxy
  - time to response headers is bounded by the configured timeout
  - non-streaming calls are additionally bounded end to end
  - responses may be gzip or brotli encoded

Poe and OpenRouter send "Authorization: Bearer <key>" and fail with
ErrMissingCredential before any network call when the key is empty.
OpenRouter also sends HTTP-Referer and X-Title.

# Errors

  - ErrMissingCredential: the backend needs a key that is not configured
  - ErrUpstreamTimeout: the deadline passed before the response completed
  - ErrUpstreamTransport: connection or decoding failures
  - *StatusError: a non-2xx reply, matching ErrUpstreamTransport, with the
    upstream body attached

A caller cancelling ctx gets context.Canceled back unchanged.
*/
package providers
