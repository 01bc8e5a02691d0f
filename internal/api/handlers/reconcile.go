// reconcile.go — обработчик ручного запуска цикла сверки.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/communitysync/internal/api/errors"
)

// RunReconcile — POST /api/v1/reconcile.
// Запускает внеочередной цикл сверки. 409 — цикл уже выполняется.
func (h *APIHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	result, skipped := h.reconcile.RunOnce(r.Context())
	if skipped {
		apierrors.Conflict(w, "Цикл сверки уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
