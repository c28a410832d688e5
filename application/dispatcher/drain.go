package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/logweave/parserhost/domain/entities"
)

// Drain streams r through the session until r is exhausted or the guest
// reports end of stream. Bytes the guest leaves unconsumed are carried into
// the next call together with fresh input. fn, if set, receives every result
// that carries entries; returning an error from fn stops the drain.
//
// Input that ends while the guest still needs more is reported as
// io.ErrUnexpectedEOF.
func (d *Dispatcher) Drain(ctx context.Context, id entities.SessionID, r io.Reader, fn func(entities.ParseResult) error) error {
	var (
		pending  = make([]byte, 0, d.drainChunk)
		readBuf  = make([]byte, d.drainChunk)
		eof      bool
		needMore bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !eof && (len(pending) == 0 || needMore) {
			n, err := r.Read(readBuf)
			pending = append(pending, readBuf[:n]...)
			switch {
			case errors.Is(err, io.EOF):
				eof = true
			case err != nil:
				return fmt.Errorf("read source: %w", err)
			}
			if n == 0 && !eof {
				continue
			}
			needMore = false
		}
		if len(pending) == 0 {
			if eof {
				return nil
			}
			continue
		}

		res, err := d.Feed(ctx, id, pending)
		if err != nil {
			return err
		}
		if fn != nil && len(res.Entries) > 0 {
			if err := fn(res); err != nil {
				return err
			}
		}
		pending = append(pending[:0], pending[res.BytesConsumed:]...)

		switch {
		case res.NextState == entities.NextExhausted:
			return nil
		case res.NextState == entities.NextNeedMoreInput, res.BytesConsumed == 0:
			if eof {
				if len(pending) == 0 {
					return nil
				}
				return fmt.Errorf("%w: %d bytes left unparsed", io.ErrUnexpectedEOF, len(pending))
			}
			needMore = true
		}
	}
}
