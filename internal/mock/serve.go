package mock

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Listen serves the feed on addr (use "127.0.0.1:0" for any free port)
// until ctx is done and returns its URL.
func (g *Generator) Listen(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{
		Handler:           g,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Warn().Err(err).Msg("Mock feed stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	url := "http://" + ln.Addr().String() + "/"
	g.log.Info().Str("url", url).Msg("Mock feed listening")
	return url, nil
}
