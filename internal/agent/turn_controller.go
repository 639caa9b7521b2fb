package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/auth"
	"github.com/conclave-ai/conclave/internal/backoff"
	"github.com/conclave-ai/conclave/internal/models"
)

// PromptErrorReason classifies why a single attempt failed, independent of
// which provider or profile was in use. The set mirrors the taxonomy a
// multi-profile, multi-model agent core needs to decide whether a failure is
// worth retrying in place, worth compacting for, or terminal.
type PromptErrorReason string

const (
	ReasonContextOverflow     PromptErrorReason = "context_overflow"
	ReasonCompactionFailure   PromptErrorReason = "compaction_failure"
	ReasonRoleOrdering        PromptErrorReason = "role_ordering"
	ReasonImageSize           PromptErrorReason = "image_size"
	ReasonImageDimension      PromptErrorReason = "image_dimension"
	ReasonThinkingUnsupported PromptErrorReason = "thinking_unsupported"
	ReasonRateLimit           PromptErrorReason = "rate_limit"
	ReasonAuth                PromptErrorReason = "auth"
	ReasonTimeout             PromptErrorReason = "timeout"
	ReasonUnknown             PromptErrorReason = "unknown"
)

// classifyPromptErrorReason inspects an attempt error and assigns it one of
// the reasons above. It first checks for the prompt-shaped failures that only
// this layer understands (overflow, ordering, image payloads, thinking
// support), then falls back to the provider-error classifier shared with the
// model fallback chain so "rate_limit"/"auth"/"timeout" stay consistent
// across both layers.
func classifyPromptErrorReason(err error) PromptErrorReason {
	if err == nil {
		return ReasonUnknown
	}

	var failoverErr *models.FailoverError
	if errors.As(err, &failoverErr) {
		switch failoverErr.Reason {
		case models.ReasonRateLimit:
			return ReasonRateLimit
		case models.ReasonAuthError:
			return ReasonAuth
		case models.ReasonTimeout:
			return ReasonTimeout
		}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context_length_exceeded"),
		strings.Contains(msg, "maximum context length"),
		strings.Contains(msg, "context window"),
		strings.Contains(msg, "prompt is too long"),
		strings.Contains(msg, "too many tokens"),
		strings.Contains(msg, "input is too long"):
		return ReasonContextOverflow

	case strings.Contains(msg, "compaction failed"),
		strings.Contains(msg, "summarizer"):
		return ReasonCompactionFailure

	case strings.Contains(msg, "messages must alternate"),
		strings.Contains(msg, "invalid role order"),
		strings.Contains(msg, "unexpected role"),
		strings.Contains(msg, "conversation must start with"),
		strings.Contains(msg, "roles must alternate"):
		return ReasonRoleOrdering

	case strings.Contains(msg, "image exceeds"),
		strings.Contains(msg, "image too large"),
		strings.Contains(msg, "image size"),
		strings.Contains(msg, "image payload"):
		return ReasonImageSize

	case strings.Contains(msg, "image dimension"),
		strings.Contains(msg, "unsupported image dimensions"),
		strings.Contains(msg, "width and height"):
		return ReasonImageDimension

	case strings.Contains(msg, "thinking is not supported"),
		strings.Contains(msg, "extended thinking not available"),
		strings.Contains(msg, "unsupported thinking"),
		strings.Contains(msg, "thinking budget"):
		return ReasonThinkingUnsupported
	}

	switch models.CoerceToFailoverError(err, "", "").Reason {
	case models.ReasonRateLimit:
		return ReasonRateLimit
	case models.ReasonAuthError:
		return ReasonAuth
	case models.ReasonTimeout:
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

// reasonHTTPStatus maps a classified reason to the HTTP-like status carried
// on a FailoverError, per the rate-limit/timeout/auth/unknown mapping.
func reasonHTTPStatus(reason PromptErrorReason) int {
	switch reason {
	case ReasonRateLimit:
		return 429
	case ReasonTimeout:
		return 408
	case ReasonAuth:
		return 401
	default:
		return 500
	}
}

// Terminal, user-facing errors for outcomes the controller will not retry
// further. Callers render these directly rather than the raw provider error.
var (
	ErrConversationTooLarge = errors.New("this conversation has grown too large to continue even after compaction; please start a fresh session")
	ErrOrderingConflict     = errors.New("the model rejected this conversation's message order; please start a fresh session")
	ErrImagePayloadTooLarge = errors.New("one of the attached images is too large; please compress or resize it and try again")
	ErrImageDimensions      = errors.New("one of the attached images has unsupported dimensions; please resize it and try again")
	ErrAllProfilesExhausted = errors.New("no usable authentication profile is available right now")
)

// ModelTarget names one entry of a model fallback chain.
type ModelTarget struct {
	Provider string
	Model    string
}

// CompactionFunc invokes the session compaction path for sessionID, writing
// a summarized branch and returning its id, or an error if compaction itself
// failed (which short-circuits further overflow recovery for the turn).
type CompactionFunc func(ctx context.Context, sessionID string) (branchID string, err error)

// FailoverPolicy configures the retry/rotation behavior of TurnController.
type FailoverPolicy struct {
	// RateLimitWait is the single configured wait window tried once per turn
	// before profile rotation is attempted on a repeated rate-limit signal.
	RateLimitWait time.Duration

	// ThinkingFallbacks lists thinking levels to try, in order, when a
	// model rejects the currently requested level. Levels already attempted
	// this turn are skipped.
	ThinkingFallbacks []ThinkingLevel

	// ModelFallbacks is the ordered model fallback chain. When set, a
	// terminal failure after profile/rotation exhaustion is raised as a
	// *models.FailoverError instead of surfaced directly, so an outer caller
	// can re-invoke the core against the next candidate.
	ModelFallbacks []ModelTarget
}

// TurnController implements the failover-and-compaction policy that wraps a
// single attempt function: profile rotation, a one-shot context-overflow
// compaction retry, rate-limit wait-then-rotate-then-fallback, thinking-level
// fallback, and terminal classification of role-ordering/image errors.
//
// It holds no session or provider state itself; callers supply those via
// AttemptFunc and CompactionFunc closures so the controller can be unit
// tested independently of the runtime's streaming and tool-execution
// machinery.
type TurnController struct {
	Auth    *auth.ProfileStore
	Compact CompactionFunc
	Policy  FailoverPolicy

	// Provider is the provider name used to resolve auth profiles.
	Provider string

	// PreferredProfile pins the first profile to try. Empty means the
	// store's last-good profile for the provider leads, then the rest in
	// least-recently-used order.
	PreferredProfile string
}

// AttemptFunc performs one round trip against the provider using the given
// profile and thinking level. It returns a classifiable error on failure;
// TurnController does not care whether the failure was detected before or
// after streaming started, it classifies either path the same way.
type AttemptFunc[T any] func(ctx context.Context, thinkLevel ThinkingLevel, profileID string) (T, error)

// RunTurn drives one user turn to completion (or a terminal/failover
// outcome) for controller c. It is a package-level generic function, not a
// method, because Go methods cannot introduce their own type parameters;
// the shape mirrors models.RunWithFallback so both layers of fallback
// read the same way.
//
// initialThinkLevel is the level requested by the caller; on profile
// rotation the level resets to this value (a new profile may support
// whatever level the caller originally asked for).
func RunTurn[T any](ctx context.Context, c *TurnController, sessionID string, initialThinkLevel ThinkingLevel, attempt AttemptFunc[T]) (T, error) {
	var zero T

	// resolveProfiles already excludes disabled and cooling-down profiles,
	// so an empty list here means nothing is usable: surface that without
	// a single driver call.
	profiles := c.resolveProfiles()
	if c.Auth != nil && len(profiles) == 0 {
		if len(c.Policy.ModelFallbacks) > 0 {
			return zero, models.NewFailoverError(auth.ErrAllInCooldown, c.Provider, "", string(models.ReasonAuthError)).WithStatus(reasonHTTPStatus(ReasonAuth))
		}
		return zero, ErrAllProfilesExhausted
	}

	profileIdx := 0
	thinkLevel := initialThinkLevel
	attemptedThinking := map[ThinkingLevel]bool{}
	overflowRecoveryAttempted := false
	rateLimitWaitAttempted := false

	currentProfile := func() string {
		if len(profiles) == 0 {
			return ""
		}
		return profiles[profileIdx]
	}

	for {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		profileID := currentProfile()
		if c.Auth != nil && profileID != "" {
			c.Auth.MarkUsed(profileID)
		}
		result, err := attempt(ctx, thinkLevel, profileID)
		if err == nil {
			if c.Auth != nil && profileID != "" {
				c.Auth.MarkSuccess(profileID)
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if models.IsAbortError(err) {
			return zero, err
		}

		reason := classifyPromptErrorReason(err)

		switch reason {
		case ReasonContextOverflow:
			if strings.Contains(strings.ToLower(err.Error()), "compaction failed") {
				return zero, ErrConversationTooLarge
			}
			if overflowRecoveryAttempted {
				return zero, ErrConversationTooLarge
			}
			overflowRecoveryAttempted = true
			if c.Compact == nil {
				return zero, ErrConversationTooLarge
			}
			if _, cerr := c.Compact(ctx, sessionID); cerr != nil {
				return zero, ErrConversationTooLarge
			}
			continue

		case ReasonCompactionFailure:
			return zero, ErrConversationTooLarge

		case ReasonRoleOrdering:
			return zero, ErrOrderingConflict

		case ReasonImageSize:
			return zero, ErrImagePayloadTooLarge

		case ReasonImageDimension:
			return zero, ErrImageDimensions

		case ReasonThinkingUnsupported:
			if next, ok := c.nextThinkingFallback(thinkLevel, attemptedThinking); ok {
				attemptedThinking[thinkLevel] = true
				thinkLevel = next
				continue
			}
			// Fallback levels exhausted; fall through to profile/model failover.

		case ReasonRateLimit:
			if !rateLimitWaitAttempted {
				rateLimitWaitAttempted = true
				if waitErr := backoff.SleepWithContext(ctx, c.Policy.RateLimitWait); waitErr != nil {
					return zero, waitErr
				}
				continue
			}
			// Second rate-limit hit this turn; fall through to rotation/fallback.

		case ReasonTimeout:
			// Timeouts are treated as a potential rate-limit signal: mark
			// failure, attempt rotation, then model fallback.
		}

		// Auth/general failover path: mark the profile bad, advance to the
		// next profile that is still usable (another turn's failure may
		// have benched one of ours mid-flight), reset the thinking level,
		// retry; exhaust to model fallback or surface the error.
		if c.Auth != nil && profileID != "" {
			c.Auth.MarkFailureWithReason(profileID, string(reason))
		}
		profileIdx++
		for c.Auth != nil && profileIdx < len(profiles) && c.Auth.IsInCooldown(profiles[profileIdx]) {
			profileIdx++
		}
		thinkLevel = initialThinkLevel
		attemptedThinking = map[ThinkingLevel]bool{}

		if profileIdx < len(profiles) {
			continue
		}

		if len(c.Policy.ModelFallbacks) > 0 {
			return zero, models.NewFailoverError(err, c.Provider, "", string(reason)).WithStatus(reasonHTTPStatus(reason))
		}
		return zero, err
	}
}

// resolveProfiles builds the ordered candidate list for this turn: the
// caller's pinned profile (or the provider's last-good one) first, then
// the remaining usable profiles least-recently-used first.
func (c *TurnController) resolveProfiles() []string {
	if c.Auth == nil {
		return nil
	}
	preferred := c.PreferredProfile
	if preferred == "" {
		preferred = c.Auth.LastGoodProfile(c.Provider)
	}
	return c.Auth.ResolveProfileOrder(c.Provider, preferred)
}

// nextThinkingFallback returns the first configured fallback level that has
// not yet been tried this turn and differs from the current level.
func (c *TurnController) nextThinkingFallback(current ThinkingLevel, tried map[ThinkingLevel]bool) (ThinkingLevel, bool) {
	for _, level := range c.Policy.ThinkingFallbacks {
		if level == current {
			continue
		}
		if tried[level] {
			continue
		}
		return level, true
	}
	return ThinkingOff, false
}

// DefaultThinkingFallbackChain returns the standard degrade-gracefully order
// used when a model rejects the requested thinking level.
func DefaultThinkingFallbackChain() []ThinkingLevel {
	return []ThinkingLevel{ThinkingHigh, ThinkingMedium, ThinkingLow, ThinkingMinimal, ThinkingOff}
}

// describeFailover renders a short operator-facing summary of why a turn
// failed over, used in logs and trace attributes.
func describeFailover(reason PromptErrorReason, profileID string, attemptNum int) string {
	if profileID == "" {
		return fmt.Sprintf("attempt %d failed: %s", attemptNum, reason)
	}
	return fmt.Sprintf("attempt %d on profile %s failed: %s", attemptNum, profileID, reason)
}
