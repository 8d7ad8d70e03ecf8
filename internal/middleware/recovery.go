package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラーのpanicを捕捉して500を返すミドルウェアを生成する。
// http.ErrAbortHandlerはnet/httpに処理させるため再度panicする。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				logPanic(r, rec)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// logPanic はpanicの内容とスタックを記録する。
// リクエストボディには資格情報が含まれうるため、メソッドとパス以外は記録しない。
func logPanic(r *http.Request, rec any) {
	slog.Error("panic recovered",
		slog.Any("panic", rec),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)
}
