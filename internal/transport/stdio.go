package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
	"github.com/rickchristie/postgres-mcp-gateway/internal/jsonrpc"
)

// MaxStdioMessageBytes bounds a single stdin line. Longer lines are
// answered with INVALID_REQUEST and skipped.
const MaxStdioMessageBytes = 10 << 20

// ServeStdio reads newline-delimited JSON-RPC messages from in and writes
// one reply line per request to out, all on session. It returns nil when in
// reaches EOF.
func ServeStdio(ctx context.Context, dispatcher Dispatcher, session *pgmcp.Session, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	return serveLines(ctx, dispatcher, session, in, out, MaxStdioMessageBytes, logger)
}

func serveLines(ctx context.Context, dispatcher Dispatcher, session *pgmcp.Session, in io.Reader, out io.Writer, limit int, logger zerolog.Logger) error {
	r := bufio.NewReaderSize(in, 64*1024)
	w := bufio.NewWriter(out)

	logger.Info().Str("session_id", session.ID()).Msg("stdio transport started")
	for {
		line, tooLong, readErr := readLine(r, limit)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("failed to read stdin: %w", readErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var reply []byte
		if tooLong {
			logger.Warn().Int("limit", limit).Msg("stdin message too large, skipped")
			reply = oversizedReply(limit)
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			reply = dispatcher.HandleMessage(ctx, session, line)
		}
		if reply != nil {
			if err := writeLine(w, reply); err != nil {
				return err
			}
		}

		if readErr != nil {
			logger.Info().Msg("stdin closed, stdio transport stopped")
			return nil
		}
	}
}

// readLine returns the next line without its newline. A line longer than
// limit is consumed to its end and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		n := len(line) + len(bytes.TrimSuffix(chunk, []byte{'\n'}))
		switch {
		case tooLong:
		case n > limit:
			tooLong, line = true, nil
		default:
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSuffix(line, []byte{'\n'}), tooLong, err
	}
}

func oversizedReply(limit int) []byte {
	resp := jsonrpc.Failure(json.RawMessage("null"),
		jsonrpc.NewError(jsonrpc.CodeInvalidRequest, fmt.Sprintf("message exceeds %d bytes", limit)))
	b, _ := json.Marshal(resp)
	return b
}

func writeLine(w *bufio.Writer, reply []byte) error {
	if _, err := w.Write(reply); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush reply: %w", err)
	}
	return nil
}
