package api

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
)

// recovery turns a panic into the usual JSON 500. gorilla's RecoveryHandler writes the status and then hands
// the panic to its logger, which is where the error body is written.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &recoveryWriter{ResponseWriter: w}
		reporter := &panicReporter{w: rw, log: loggerFrom(r.Context())}

		handlers.RecoveryHandler(
			handlers.RecoveryLogger(reporter),
			handlers.PrintRecoveryStack(false),
		)(next).ServeHTTP(rw, r)
	})
}

// recoveryWriter remembers what was already sent so a panic after the handler wrote its response is only logged
type recoveryWriter struct {
	http.ResponseWriter
	status    int
	wroteBody bool
}

func (rw *recoveryWriter) WriteHeader(code int) {
	if rw.status != 0 {
		return
	}
	rw.status = code
	if code == http.StatusInternalServerError && rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", "application/json")
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recoveryWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	rw.wroteBody = true
	return rw.ResponseWriter.Write(b)
}

// panicReporter satisfies handlers.RecoveryHandlerLogger
type panicReporter struct {
	w   *recoveryWriter
	log logrus.FieldLogger
}

func (p *panicReporter) Println(v ...interface{}) {
	p.log.WithFields(logrus.Fields{
		"panic": fmt.Sprint(v...),
		"stack": string(debug.Stack()),
	}).Error("recovered from panic")

	if p.w.status == http.StatusInternalServerError && !p.w.wroteBody {
		_ = writeBody(p.w, errorResponse{Error: "Internal server error"})
	}
}
