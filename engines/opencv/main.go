// Command opencv-engine serves face and object detection over the detector
// process protocol. Drishti starts it from the engine directory; models are
// looked up in ./models unless -models says otherwise.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/detector"
)

func main() {
	probe := flag.Bool("probe", false, "answer a single probe request and exit")
	models := flag.String("models", "models", "directory holding the model files")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := taskFactory(detector.NewResolver(nil, nil, *models))

	var err error
	if *probe {
		err = detector.ServeProbe(ctx, os.Stdin, os.Stdout, factory)
	} else {
		err = detector.Serve(ctx, os.Stdin, os.Stdout, factory)
	}
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine stopped")
		os.Exit(1)
	}
}

// taskFactory builds the in-process backend for the task named in the
// options of each request.
func taskFactory(r *detector.Resolver) detector.Factory {
	return func(ctx context.Context, opts detector.Options) (detector.Detector, error) {
		return r.Factory(opts.Task)(ctx, opts)
	}
}
