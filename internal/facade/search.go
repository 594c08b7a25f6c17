package facade

import (
	"context"

	"github.com/tombee/conduit/internal/filter"
	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/spi"
)

// Search runs a filtered query in list mode. Instances that only stream
// are bridged by accumulating into a page. Results are never cached.
func (f *Facade) Search(ctx context.Context, objectClass string, flt *spi.Filter, opts *spi.OperationOptions) (*spi.Page, error) {
	if objectClass == "" {
		return nil, spi.NewValidationError("objectClass is required")
	}
	if err := filter.Validate(flt); err != nil {
		return nil, err
	}

	if op, ok := f.impl.(spi.SearchOp); ok {
		value, err := f.execute(ctx, spi.OpSearch, opts, func(ctx context.Context) (any, error) {
			return op.Search(ctx, objectClass, flt, opts)
		})
		if err != nil {
			return nil, err
		}
		page, _ := value.(*spi.Page)
		if page == nil {
			page = &spi.Page{RemainingPagedResults: -1}
		}
		return page, nil
	}

	op, ok := f.impl.(spi.StreamSearchOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpSearch))
	}

	// Stream-only instance: buffer the stream into one page.
	value, err := f.execute(ctx, spi.OpSearch, opts, func(ctx context.Context) (any, error) {
		var objects []*spi.ConnectorObject
		stream, err := op.StreamSearch(ctx, objectClass, flt, opts, func(obj *spi.ConnectorObject) bool {
			objects = append(objects, obj)
			return true
		})
		if err != nil {
			return nil, err
		}
		page := &spi.Page{Objects: objects, RemainingPagedResults: -1}
		if stream != nil {
			page.PagedResultsCookie = stream.PagedResultsCookie
			page.RemainingPagedResults = stream.RemainingPagedResults
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*spi.Page), nil
}

// StreamSearch runs a filtered query delivering objects to handler one
// at a time. List-only instances are bridged by paging; the handler
// returning false stops the stream within the current page.
func (f *Facade) StreamSearch(ctx context.Context, objectClass string, flt *spi.Filter, opts *spi.OperationOptions, handler spi.ResultHandler) (*spi.StreamResult, error) {
	if objectClass == "" {
		return nil, spi.NewValidationError("objectClass is required")
	}
	if handler == nil {
		return nil, spi.NewValidationError("handler is required")
	}
	if err := filter.Validate(flt); err != nil {
		return nil, err
	}

	if op, ok := f.impl.(spi.StreamSearchOp); ok {
		value, err := f.execute(ctx, spi.OpSearch, opts, func(ctx context.Context) (any, error) {
			return op.StreamSearch(ctx, objectClass, flt, opts, handler)
		})
		if err != nil {
			return nil, err
		}
		stream, _ := value.(*spi.StreamResult)
		if stream == nil {
			stream = &spi.StreamResult{RemainingPagedResults: -1}
		}
		return stream, nil
	}

	op, ok := f.impl.(spi.SearchOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpSearch))
	}
	return f.streamByPaging(ctx, op, objectClass, flt, opts, handler)
}

// streamByPaging adapts a list-mode search to a streaming consumer.
// Each page is fetched through the breaker; page boundaries are crossed
// only after every object in the prior page was offered to the handler.
func (f *Facade) streamByPaging(ctx context.Context, op spi.SearchOp, objectClass string, flt *spi.Filter, opts *spi.OperationOptions, handler spi.ResultHandler) (*spi.StreamResult, error) {
	pageOpts := spi.OperationOptions{}
	if opts != nil {
		pageOpts = *opts
	}

	result := &spi.StreamResult{RemainingPagedResults: -1}
	for {
		if err := ctx.Err(); err != nil {
			return nil, spi.NewBackendError("stream cancelled", err)
		}

		value, err := f.execute(ctx, spi.OpSearch, opts, func(ctx context.Context) (any, error) {
			return op.Search(ctx, objectClass, flt, &pageOpts)
		})
		if err != nil {
			return nil, err
		}
		page, _ := value.(*spi.Page)
		if page == nil {
			return result, nil
		}

		result.PagedResultsCookie = page.PagedResultsCookie
		result.RemainingPagedResults = page.RemainingPagedResults

		for _, obj := range page.Objects {
			if !handler(obj) {
				return result, nil
			}
		}

		switch {
		case len(page.Objects) == 0:
			return result, nil
		case page.RemainingPagedResults == 0:
			return result, nil
		case page.PagedResultsCookie != "":
			pageOpts.PagedResultsCookie = page.PagedResultsCookie
			pageOpts.PagedResultsOffset = 0
		case page.NextOffset > 0:
			pageOpts.PagedResultsCookie = ""
			pageOpts.PagedResultsOffset = page.NextOffset
		default:
			return result, nil
		}
	}
}

// Sync returns changes since token. Token semantics belong to the
// connector; the host never interprets the value.
func (f *Facade) Sync(ctx context.Context, objectClass string, token *spi.SyncToken, opts *spi.OperationOptions) (*spi.SyncResult, error) {
	if objectClass == "" {
		return nil, spi.NewValidationError("objectClass is required")
	}
	op, ok := f.impl.(spi.SyncOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpSync))
	}

	value, err := f.execute(ctx, spi.OpSync, opts, func(ctx context.Context) (any, error) {
		return op.Sync(ctx, objectClass, token, opts)
	})
	if err != nil {
		return nil, err
	}

	result, _ := value.(*spi.SyncResult)
	if result == nil {
		result = &spi.SyncResult{}
	}
	metrics.RecordSyncChanges(f.id, len(result.Changes))
	return result, nil
}

// LatestSyncToken asks the connector for its current sync position.
func (f *Facade) LatestSyncToken(ctx context.Context, objectClass string) (*spi.SyncToken, error) {
	if objectClass == "" {
		return nil, spi.NewValidationError("objectClass is required")
	}
	op, ok := f.impl.(spi.SyncOp)
	if !ok {
		return nil, spi.NewNotSupported(string(spi.OpSync))
	}

	value, err := f.execute(ctx, spi.OpSync, nil, func(ctx context.Context) (any, error) {
		return op.LatestSyncToken(ctx, objectClass)
	})
	if err != nil {
		return nil, err
	}
	token, _ := value.(*spi.SyncToken)
	return token, nil
}
