package endpoints

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/api"
	"github.com/jackzampolin/epubify/internal/convert"
	"github.com/jackzampolin/epubify/internal/svcctx"
)

// maxSubmitBody caps the size of a conversion request body.
const maxSubmitBody = 64 << 10

// ConvertResponse is returned when a conversion is queued.
type ConvertResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ConvertEndpoint handles POST /api/convert.
type ConvertEndpoint struct{}

func (e *ConvertEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/convert", e.handler
}

func (e *ConvertEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Queue a conversion
//	@Description	Crawl a documentation page and the pages it links to, and package them as an EPUB
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		convert.SubmitRequest	true	"Conversion request"
//	@Success		202		{object}	ConvertResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/convert [post]
func (e *ConvertEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ConverterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "conversion service not initialized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxSubmitBody {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req, err := convert.DecodeSubmitRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := svc.Submit(r.Context(), req)
	switch {
	case errors.Is(err, convert.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, convert.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to queue conversion")
		return
	}

	writeJSON(w, http.StatusAccepted, ConvertResponse{TaskID: taskID, Message: convert.QueuedMessage})
}

func (e *ConvertEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "convert <url>",
		Short: "Queue a documentation-to-EPUB conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConvertResponse
			req := convert.SubmitRequest{URL: args[0], Title: title}
			if err := client.Post(cmd.Context(), "/api/convert", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Book title (defaults to the documentation host)")
	return cmd
}

// TaskStatusEndpoint handles GET /api/status/{id}.
type TaskStatusEndpoint struct{}

func (e *TaskStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/status/{id}", e.handler
}

func (e *TaskStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get task status
//	@Tags		tasks
//	@Produce	json
//	@Param		id	path		string	true	"Task ID"
//	@Success	200	{object}	convert.StatusView
//	@Failure	404	{object}	ErrorResponse
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/status/{id} [get]
func (e *TaskStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ConverterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "conversion service not initialized")
		return
	}

	view, err := svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (e *TaskStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Get the status of a conversion task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp convert.StatusView
			if err := client.Get(cmd.Context(), "/api/status/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DownloadEndpoint handles GET /api/download/{id}.
type DownloadEndpoint struct{}

func (e *DownloadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/download/{id}", e.handler
}

func (e *DownloadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download a finished EPUB
//	@Tags			tasks
//	@Produce		application/epub+zip
//	@Param			id	path		string	true	"Task ID"
//	@Success		200	{file}		binary
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/download/{id} [get]
func (e *DownloadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ConverterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "conversion service not initialized")
		return
	}

	file, err := svc.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.MediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	http.ServeFile(w, r, file.Path)
}

func (e *DownloadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "download <task_id>",
		Short: "Download the EPUB of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			client := api.NewClient(getServerURL())
			data, err := client.GetRaw(cmd.Context(), "/api/download/"+taskID)
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = taskID + ".epub"
			}
			if err := writeFile(outputPath, data); err != nil {
				return err
			}
			fmt.Printf("Downloaded to: %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

// DeleteTaskResponse confirms a deletion.
type DeleteTaskResponse struct {
	Message string `json:"message"`
}

// DeleteTaskEndpoint handles DELETE /api/tasks/{id}.
type DeleteTaskEndpoint struct{}

func (e *DeleteTaskEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/tasks/{id}", e.handler
}

func (e *DeleteTaskEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a task
//	@Description	Remove a task record and its EPUB. Deleting an unknown task succeeds.
//	@Tags			tasks
//	@Produce		json
//	@Param			id	path		string	true	"Task ID"
//	@Success		200	{object}	DeleteTaskResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/tasks/{id} [delete]
func (e *DeleteTaskEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ConverterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "conversion service not initialized")
		return
	}

	if err := svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("failed to delete task", "task_id", r.PathValue("id"), "error", err)
		}
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, DeleteTaskResponse{Message: "Task deleted"})
}

func (e *DeleteTaskEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task_id>",
		Short: "Delete a conversion task and its EPUB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/tasks/"+args[0]); err != nil {
				return err
			}
			fmt.Println("Task deleted successfully")
			return nil
		},
	}
}
