/*
Package limiter implements per-endpoint admission control ahead of the
scheduler. Each endpoint composes a sliding-window counter (minute and hour)
with a token-bucket burst allowance; admission is granted only when every
component has capacity, and denial always reports the soonest future instant
at which a retry would succeed. Provider-supplied rate-limit headers can
additionally forbid admission until an explicit reset instant.
*/
package limiter
