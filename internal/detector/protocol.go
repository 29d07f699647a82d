package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxFrameSize bounds the encoded frame accepted by ReadFrame.
const MaxFrameSize = 32 << 20

// ErrFrameTooLarge is returned by ReadFrame for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// InitResponse is the engine's answer to the options line sent at startup.
type InitResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// DetectResponse is the one-line JSON answer to each frame.
type DetectResponse struct {
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}

// WriteFrame writes one frame: a 4-byte big-endian length of the JPEG
// payload, an 8-byte big-endian float64 timestamp in milliseconds, then the
// JPEG bytes.
func WriteFrame(w io.Writer, timestampMs float64, jpeg []byte) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(jpeg)))
	binary.BigEndian.PutUint64(header[4:12], math.Float64bits(timestampMs))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// ReadFrame reads a frame written by WriteFrame. It returns io.EOF when the
// stream ends cleanly before a header.
func ReadFrame(r io.Reader) (float64, []byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[0:4])
	if n > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	ts := math.Float64frombits(binary.BigEndian.Uint64(header[4:12]))

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("read data: %w", err)
	}
	return ts, data, nil
}

// writeLine encodes v as a single JSON line.
func writeLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// readLine decodes one JSON line from r into v.
func readLine(r *bufio.Reader, v interface{}) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return io.EOF
		}
		if err != io.EOF {
			return err
		}
	}
	return json.Unmarshal(line, v)
}
