// Package surface defines the contract the submission driver depends on:
// an external interactive surface exposing controls by stable, pollable
// selectors. The engine never binds to a concrete platform's markup; a
// deployment supplies an implementation plus its selector bundle.
package surface

import "context"

// Surface is one stateful external rendering surface. Implementations are
// not safe for concurrent submissions; the engine sends strictly
// sequentially.
type Surface interface {
	// Count returns how many elements currently match selector.
	Count(ctx context.Context, selector string) (int, error)
	// Activate clicks the index-th element matching selector (0-based).
	Activate(ctx context.Context, selector string, index int) error
	// Focus gives input focus to the first match.
	Focus(ctx context.Context, selector string) error
	// SetText replaces the text content of the first match.
	SetText(ctx context.Context, selector string, text string) error
	// ReadText returns the text content of the first match.
	ReadText(ctx context.Context, selector string) (string, error)
	// IsEnabled reports whether the first match accepts interaction.
	IsEnabled(ctx context.Context, selector string) (bool, error)
	// IsVisible reports whether any match is currently rendered.
	IsVisible(ctx context.Context, selector string) (bool, error)
	// Trigger clicks the first match.
	Trigger(ctx context.Context, selector string) error
}

// Selectors bundles the stable selectors one platform deployment exposes.
type Selectors struct {
	// EntryPoint opens the submission composer; the driver activates the
	// Nth match, where N comes from the source's target discriminator.
	EntryPoint string
	// Composer is the open submission surface itself; its disappearance
	// is the ambiguous-close signal.
	Composer string
	// Input is the text-input area inside the composer.
	Input string
	// Submit is the control that triggers submission.
	Submit string
	// RateLimitNotice appears anywhere on the surface when the platform
	// is rate limiting.
	RateLimitNotice string
	// SuccessAck is the explicit success acknowledgement.
	SuccessAck string
	// Close is the composer's primary dismissal control.
	Close string
	// Cancel is the fallback dismissal (the cancel/escape equivalent).
	Cancel string
	// DiscardConfirm confirms a "discard draft?" prompt raised on dismissal.
	DiscardConfirm string
	// Item matches posted content rows, used for post-success verification.
	Item string
}
