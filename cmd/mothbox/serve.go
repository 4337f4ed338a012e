package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		listen string
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the local camera over gRPC for take --backend remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv := camera.NewInvoker(logger)
			if app.RpicamBinary != "" {
				inv.Binary = app.RpicamBinary
			}
			inv.CameraIndex = app.CameraIndex
			inv.Width = config.DefaultWidth
			inv.Height = config.DefaultHeight
			if width > 0 {
				inv.Width = width
			}
			if height > 0 {
				inv.Height = height
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("serve: listen %s: %w", listen, err)
			}

			srv := grpc.NewServer()
			camera.RegisterCameraServer(srv, camera.NewServer(inv, newMeasurer().Measure, logger))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				logger.Info("serve: shutting down")
				srv.GracefulStop()
			}()

			logger.Info("serve: listening", "addr", lis.Addr().String(), "binary", inv.Binary, "camera", inv.CameraIndex)
			return srv.Serve(lis)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":50061", "address to listen on")
	cmd.Flags().IntVar(&width, "width", 0, "image width (default full sensor)")
	cmd.Flags().IntVar(&height, "height", 0, "image height (default full sensor)")

	return cmd
}
