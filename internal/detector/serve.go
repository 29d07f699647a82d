package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/engine"
)

// Serve runs the engine side of the process protocol: it reads the options
// line from r, builds a detector with factory, answers the handshake on w and
// then answers every frame until r is exhausted or ctx is cancelled.
func Serve(ctx context.Context, r io.Reader, w io.Writer, factory Factory) error {
	in := bufio.NewReader(r)

	var opts Options
	if err := readLine(in, &opts); err != nil {
		return fmt.Errorf("read options: %w", err)
	}

	det, err := factory(ctx, opts)
	if err != nil {
		if werr := writeLine(w, InitResponse{Error: err.Error()}); werr != nil {
			log.Error().Err(werr).Msg("failed to write handshake")
		}
		return err
	}
	defer det.Close()

	if err := writeLine(w, InitResponse{Ready: true}); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ts, data, err := ReadFrame(in)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := writeLine(w, detectEncoded(det, ts, data)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func detectEncoded(det Detector, ts float64, data []byte) DetectResponse {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return DetectResponse{Error: fmt.Sprintf("decode frame: %v", err)}
	}
	defer mat.Close()

	if mat.Empty() {
		return DetectResponse{Error: "empty frame"}
	}

	res, err := det.Detect(&mat, ts)
	if err != nil {
		return DetectResponse{Error: err.Error()}
	}

	detections := res.Detections
	if detections == nil {
		detections = []Detection{}
	}
	return DetectResponse{Detections: detections}
}

// ServeProbe answers a single --probe request: it decodes the request from
// r, checks that factory can build a detector for it and reports on w.
func ServeProbe(ctx context.Context, r io.Reader, w io.Writer, factory Factory) error {
	var req engine.ProbeRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return writeLine(w, engine.ProbeResponse{Error: fmt.Sprintf("invalid request: %v", err)})
	}

	opts := DefaultOptions(req.Task)
	if len(req.Options) > 0 && string(req.Options) != "null" {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			return writeLine(w, engine.ProbeResponse{Error: fmt.Sprintf("invalid options: %v", err)})
		}
	}

	det, err := factory(ctx, opts)
	if err != nil {
		return writeLine(w, engine.ProbeResponse{Error: err.Error()})
	}
	det.Close()

	data, _ := json.Marshal(map[string]string{"task": opts.Task})
	return writeLine(w, engine.ProbeResponse{Success: true, Data: data})
}
