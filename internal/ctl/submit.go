package ctl

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gammazero/workerpool"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/spf13/cobra"

	"github.com/nemanja-m/scheduler/internal/scheduler/api/rest"
	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// SubmitResult is the outcome of submitting one job file.
type SubmitResult struct {
	File     string
	Response rest.SubmitJobResponse
	Err      error
}

func SubmitCmd(app *App) *cobra.Command {
	var (
		parallel  int
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "submit <job-file-glob>...",
		Short: "Submit job files to the scheduler",
		Long: "Submit every JSON job file matched by the given patterns. Patterns " +
			"support ** for recursive matching.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := FindJobFiles(args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("parallel") {
				parallel = app.Config.Submit.Parallel
			}
			if serverURL == "" {
				serverURL = app.Config.Server.URL
			}

			results := app.SubmitFiles(serverURL, files, parallel)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(app.Out, "FAIL %s: %v\n", r.File, r.Err)
					continue
				}
				fmt.Fprintf(app.Out, "ok   %s job=%s learner=%d filter=%d fuser=%d\n",
					r.File, r.Response.JobName,
					r.Response.Published[string(core.RoleLearner)],
					r.Response.Published[string(core.RoleFilter)],
					r.Response.Published[string(core.RoleFuser)],
				)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d submissions failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "number of files submitted at once")
	cmd.Flags().StringVar(&serverURL, "server", "", "scheduler base URL (overrides server.url)")
	return cmd
}

// SubmitFiles posts every file on a worker pool of the given size. Results
// keep the order of files.
func (a *App) SubmitFiles(serverURL string, files []string, parallel int) []SubmitResult {
	results := make([]SubmitResult, len(files))
	wp := workerpool.New(max(parallel, 1))
	for i, file := range files {
		wp.Submit(func() {
			resp, err := a.submitFile(serverURL, file)
			results[i] = SubmitResult{File: file, Response: resp, Err: err}
		})
	}
	wp.StopWait()
	return results
}

func (a *App) submitFile(serverURL, file string) (rest.SubmitJobResponse, error) {
	var resp rest.SubmitJobResponse

	data, err := os.ReadFile(file)
	if err != nil {
		return resp, err
	}
	var spec core.JobSpec
	if err := ffjson.Unmarshal(data, &spec); err != nil {
		return resp, fmt.Errorf("decode job: %w", err)
	}
	if err := core.ValidateJobSpec(&spec); err != nil {
		return resp, err
	}

	// the file goes out as written; spec decodes numbers as float64, which
	// would round integer candidates above 2^53
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	a.Logger.Debug("Submitting job", "file", file, "job_name", spec.Name)
	httpResp, err := a.HTTP.Post(strings.TrimRight(serverURL, "/")+"/job", bytes.NewReader(data), headers)
	if err != nil {
		return resp, fmt.Errorf("post job: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusCreated {
		var errResp rest.ErrorResponse
		if err := ffjson.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return resp, fmt.Errorf("scheduler returned %d: %s: %s", httpResp.StatusCode, errResp.Error, errResp.Message)
		}
		return resp, fmt.Errorf("scheduler returned %d", httpResp.StatusCode)
	}
	if err := ffjson.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
