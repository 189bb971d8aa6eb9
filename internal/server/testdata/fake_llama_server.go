// Stand-in for the real llama-server binary. Accepts the flag set the
// supervisor passes, prints the listener marker, and answers 503 while
// "loading" then 200. Built on demand by the integration tests.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	var (
		model     = flag.String("model", "", "model path")
		port      = flag.Int("port", 8080, "port")
		ctxSize   = flag.Int("ctx-size", 512, "aggregate context size")
		parallel  = flag.Int("parallel", 1, "parallel slots")
		ngl       = flag.Int("ngl", 0, "gpu layers")
		splitMode = flag.String("split-mode", "", "split mode")
		contBatch = flag.Bool("cont-batching", false, "continuous batching")
	)
	flag.Parse()
	_ = ctxSize
	_ = parallel
	_ = ngl
	_ = splitMode
	_ = contBatch
	if *model == "" {
		fmt.Fprintln(os.Stderr, "error: no model")
		os.Exit(1)
	}

	loadMS := 200
	if v := os.Getenv("FAKE_LLAMA_LOAD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			loadMS = n
		}
	}
	loadedAt := time.Now().Add(time.Duration(loadMS) * time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		if time.Now().Before(loadedAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// The real binary logs this to stderr once its listener is up.
	fmt.Fprintf(os.Stderr, "main: HTTP server listening, hostname: 127.0.0.1, port: %d\n", *port)
	if err := http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", *port), mux); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
