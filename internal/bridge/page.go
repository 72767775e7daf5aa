package bridge

import (
	"context"
	"io"
)

// Page is the automation surface of a live chat tab.
//
// Implementations are used by one request at a time; the Bridge serializes
// access. Methods honour ctx for cancellation and deadlines.
type Page interface {
	// LocateInput waits until the prompt input exists and remembers it.
	LocateInput(ctx context.Context) error
	// Clear empties the input.
	Clear(ctx context.Context) error
	// SetClipboard writes text to the page's clipboard.
	SetClipboard(ctx context.Context, text string) error
	// Paste pastes the clipboard into the focused input.
	Paste(ctx context.Context) error
	// InsertText types text into the input directly, used when the
	// clipboard is not writable.
	InsertText(ctx context.Context, text string) error
	// Submit sends the composed prompt.
	Submit(ctx context.Context) error
	// AwaitResponse starts watching network traffic for the first response
	// whose URL contains match. Watching begins before AwaitResponse returns
	// and lasts until ctx ends or the response body is complete; the
	// returned wait blocks until the response arrives.
	AwaitResponse(ctx context.Context, match string) ResponseWait
}

// ResponseWait blocks until the watched response arrives or ctx ends.
type ResponseWait func(ctx context.Context) (*Response, error)

// Response is an intercepted network response. Body yields the raw bytes the
// page receives, in arrival order, and ends when the page finishes loading.
type Response struct {
	URL    string
	Status int
	Body   io.ReadCloser
}

// Driver hands out the page for the next request, connecting to or
// launching the browser and navigating as needed.
type Driver interface {
	Page(ctx context.Context) (Page, error)
}
