package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/logfields"
)

const statusQueryTimeout = 5 * time.Second

type httpRespWriter struct {
	http.ResponseWriter
	logger *zap.Logger
}

func newHTTPRespWriter(logger *zap.Logger, resp http.ResponseWriter) *httpRespWriter {
	return &httpRespWriter{
		ResponseWriter: resp,
		logger:         logger,
	}
}

// WriteStr writes a string to the http response write.
// If an error happens, it is logged with info priority and false is returned.
// If it suceeded true is returned.
func (rw *httpRespWriter) WriteStr(str string) (wasSuccessful bool) {
	_, err := rw.ResponseWriter.Write([]byte(str))
	if err != nil {
		rw.logger.Info(
			"sending http response failed",
			logfields.Event("http_response_failed"),
			zap.Error(err),
		)
		return false
	}

	return true
}

// HTTPHandlerList writes a plain-text overview of all pipelines.
func (s *Supervisor) HTTPHandlerList(respWr http.ResponseWriter, req *http.Request) {
	var result strings.Builder

	resp := newHTTPRespWriter(s.logger, respWr)
	resp.Header().Add("Content-Type", "text/plain")

	repos := s.Repositories()
	if len(repos) == 0 {
		resp.WriteStr("no pipelines running\n")
		return
	}

	ctx, cancelFn := context.WithTimeout(req.Context(), statusQueryTimeout)
	defer cancelFn()

	for _, repo := range repos {
		p, exists := s.Pipeline(repo)
		if !exists {
			continue
		}

		result.WriteString(fmt.Sprintf(
			"Repository: %s, Branch: %s, Restarts: %d\n",
			repo, p.Branch(), s.Restarts(repo),
		))

		st, err := p.Status(ctx)
		if err != nil {
			result.WriteString(fmt.Sprintf("\tstatus unavailable: %s\n\n", err))
			continue
		}

		if st.InFlight == nil {
			result.WriteString("\tIn-Flight: -\n")
		} else {
			result.WriteString(fmt.Sprintf(
				"\tIn-Flight: #%d %s, phase: %s, since: %s\n",
				st.InFlight.ID, st.InFlight.SHA, st.InFlight.Phase, st.InFlight.Since.Format(time.RFC822),
			))
		}

		result.WriteString("\tQueue:\n")
		for i, e := range st.Queue {
			result.WriteString(fmt.Sprintf(
				"\t\t%-4d #%-5d %s\tpriority: %d\n", i, e.ID, e.SHA, e.Priority,
			))
		}

		result.WriteString("\tMerge Requests:\n")
		for _, mr := range st.MergeRequests {
			result.WriteString(fmt.Sprintf(
				"\t\t#%-5d %s\t%-12s\t%s\n", mr.ID, mr.SHA, mr.State, mr.Title,
			))
		}

		result.WriteString("\n")
	}

	resp.WriteStr(result.String())
}
