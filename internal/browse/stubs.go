package browse

import (
	"context"

	"github.com/epalmerini/msgscope/internal/message"
)

// nullBrowser stands in when nothing is selected. Every page is empty.
type nullBrowser struct{}

func (nullBrowser) Open(context.Context) error  { return nil }
func (nullBrowser) Close(context.Context) error { return nil }

func (nullBrowser) FirstPage(context.Context) ([]message.Record, error) { return nil, nil }
func (nullBrowser) NextPage(context.Context) ([]message.Record, error)  { return nil, nil }
func (nullBrowser) PrevPage(context.Context) ([]message.Record, error)  { return nil, nil }

func (nullBrowser) HasNextPage() bool { return false }
func (nullBrowser) HasPrevPage() bool { return false }

// failedBrowser replaces a browser that could not be opened. It reports the
// open error from every call, so callers see it where they would fetch pages.
type failedBrowser struct {
	err error
}

func (f *failedBrowser) Open(context.Context) error  { return f.err }
func (f *failedBrowser) Close(context.Context) error { return nil }

func (f *failedBrowser) FirstPage(context.Context) ([]message.Record, error) { return nil, f.err }
func (f *failedBrowser) NextPage(context.Context) ([]message.Record, error)  { return nil, f.err }
func (f *failedBrowser) PrevPage(context.Context) ([]message.Record, error)  { return nil, f.err }

func (f *failedBrowser) HasNextPage() bool { return false }
func (f *failedBrowser) HasPrevPage() bool { return false }

// Err returns the error the browser was created with.
func (f *failedBrowser) Err() error { return f.err }

var (
	_ Browser = nullBrowser{}
	_ Browser = (*failedBrowser)(nil)
	_ Browser = (*pagedBrowser[int])(nil)
)
