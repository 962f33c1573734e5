package main

import (
	"log/slog"
	"os"
	"strconv"

	toolutil "github.com/sandrolain/uplink-bridge/testers/tools/toolutil"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

func main() {
	root := &cobra.Command{
		Use:   "collectortool",
		Short: "Measurement collector tester",
		Long:  "An HTTP server that prints every measurement posted by the bridge.",
	}

	var (
		serveAddr string
		status    int
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP server that logs posted measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Starting collector", "addr", serveAddr, "status", status)

			handler := func(ctx *fasthttp.RequestCtx) {
				sections := []toolutil.MessageSection{
					{Title: "Request", Items: []toolutil.KV{
						{Key: "Method", Value: string(ctx.Method())},
						{Key: "Path", Value: string(ctx.Path())},
						{Key: "Remote", Value: ctx.RemoteAddr().String()},
						{Key: "Content-Type", Value: string(ctx.Request.Header.ContentType())},
						{Key: "Response", Value: strconv.Itoa(status)},
					}},
				}
				toolutil.PrintColoredMessage("HTTP", sections, ctx.PostBody())
				ctx.SetStatusCode(status)
			}

			if err := fasthttp.ListenAndServe(serveAddr, handler); err != nil {
				slog.Error("error serving collector", "err", err)
				return err
			}
			return nil
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "address", "0.0.0.0:8080", "HTTP listen address")
	serveCmd.Flags().IntVar(&status, "status", fasthttp.StatusOK, "Status code returned to every request")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
