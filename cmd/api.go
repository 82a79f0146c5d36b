package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/witx/internal/services"
	"github.com/desertthunder/witx/internal/shared"
)

// apiService builds a raw API client for the account selected by --account.
func (r *Runner) apiService(cmd *cli.Command) (*services.APIService, error) {
	if err := r.requireConfig(); err != nil {
		return nil, err
	}

	var conn shared.ConnectionConfig
	switch side := cmd.String("account"); side {
	case "source":
		conn = r.config.Source
	case "target":
		conn = r.config.Target
	default:
		return nil, fmt.Errorf("%w: --account must be source or target, got %q", shared.ErrInvalidFlag, side)
	}
	if conn.Account == "" {
		return nil, fmt.Errorf("%w: %s account is not configured", shared.ErrMissingConfig, cmd.String("account"))
	}

	return services.NewAPIServiceFromClient(services.NewClient(conn, services.WithHTTPClient(r.httpClient))), nil
}

// APIGet makes a direct GET request against an account.
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	api, err := r.apiService(cmd)
	if err != nil {
		return err
	}
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	r.logger.Info("GET request", "path", path)

	resp, err := api.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, cmd.Bool("pretty"))
}

// APIPost makes a direct POST request with a JSON body against an account.
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	api, err := r.apiService(cmd)
	if err != nil {
		return err
	}
	path := cmd.StringArg("path")
	data := cmd.String("data")

	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("%w: data is not valid JSON", shared.ErrInvalidInput)
	}

	r.logger.Info("POST request", "path", path)

	resp, err := api.Post(ctx, path, []byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, true)
}

// APIReplay re-sends a request saved as a curl command, such as a batch audit reproduction,
// with the credentials of the configured account.
func (r *Runner) APIReplay(ctx context.Context, cmd *cli.Command) error {
	api, err := r.apiService(cmd)
	if err != nil {
		return err
	}
	file := cmd.StringArg("file")
	if file == "" {
		return fmt.Errorf("%w: file", shared.ErrMissingArgument)
	}

	curl, err := shared.ParseCurlFile(file)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	var body []byte
	if curl.Body != "" {
		body = []byte(curl.Body)
	}
	contentType := curl.Headers["Content-Type"]
	if contentType == "" && body != nil {
		contentType = "application/json"
	}

	r.logger.Info("replaying request", "method", curl.Method, "url", curl.URL)

	resp, err := api.Do(ctx, curl.Method, curl.URL, contentType, body)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, true)
}

func (r *Runner) writeResponse(resp *services.APIResponse, pretty bool) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

func accountFlag(def string) cli.Flag {
	return &cli.StringFlag{
		Name:    "account",
		Aliases: []string{"a"},
		Usage:   "Account to call: source or target",
		Value:   def,
	}
}

// apiCommand handles direct API calls for debugging
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct authenticated calls to the work item tracking API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints the JSON response",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					accountFlag("source"),
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					accountFlag("source"),
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
			{
				Name:  "replay",
				Usage: "Re-send a request saved as a curl command (see 'witx runs audits --curl')",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "file",
					},
				},
				Flags: []cli.Flag{
					accountFlag("target"),
				},
				Action: r.APIReplay,
			},
		},
	}
}
