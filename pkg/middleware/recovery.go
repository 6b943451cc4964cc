package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"pipeline-crm-backend/pkg/utils"
)

// Recovery turns a panic into a 500 envelope. The stack goes to the log;
// with debug set it is also returned in details.
func Recovery(logger *slog.Logger, debugMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("panic", "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(stack))

				if debugMode {
					utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
						"INTERNAL_SERVER_ERROR",
						fmt.Sprintf("Internal server error: %v", rec),
						string(stack))
					return
				}
				utils.WriteInternalServerErrorResponse(w, "Internal server error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
