package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

// Run serves HTTP (and gRPC health when GRPCPort is set) until ctx is
// cancelled, then shuts everything down in reverse order. Both listeners
// are opened before anything is served, so a busy port fails Run cleanly.
func (a *App) Run(ctx context.Context) error {
	httpLis, grpcLis, err := a.listen()
	if err != nil {
		a.Close()
		return err
	}

	httpSrv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := a.newGRPCServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			a.logger.Info("grpc health listening", "addr", grpcLis.Addr().String())
			return grpcSrv.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		a.watchConnectivity(gctx, 5*time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shCtx)
	})

	err = g.Wait()
	a.Close()
	return err
}

func (a *App) listen() (httpLis, grpcLis net.Listener, err error) {
	httpLis, err = net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("http listen: %w", err)
	}
	if a.cfg.GRPCPort == "" {
		return httpLis, nil, nil
	}
	grpcLis, err = net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		_ = httpLis.Close()
		return nil, nil, fmt.Errorf("grpc listen: %w", err)
	}
	return httpLis, grpcLis, nil
}

// Close releases the broker session and every store. In-flight writes are
// awaited first so nothing is cut off mid-insert; messages paho still
// delivers after that only touch the snapshot.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.consumer.SetHandler(nil)
		if a.mqtt != nil {
			a.consumer.Unsubscribe(a.mqtt)
		}
		a.reducer.Close()
		broker.Close(a.mqtt)
		a.closeStores()
	})
}
