package api

import (
	"net/http"
	"strconv"

	"github.com/pandashop/creditsync/internal/models"
	"github.com/pandashop/creditsync/internal/service"
)

type orderRequest struct {
	OrderID     int64  `json:"orderId"`
	Reason      string `json:"reason,omitempty"`
	Text        string `json:"text,omitempty"`
	Status      string `json:"status,omitempty"`
	ManagerID   int64  `json:"managerId,omitempty"`
	ManagerName string `json:"managerName,omitempty"`
}

func (r orderRequest) manager() service.ManagerData {
	return service.ManagerData{ManagerID: r.ManagerID, ManagerName: r.ManagerName}
}

func (s *Server) decodeOrderRequest(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "malformed request body",
		})
		return req, false
	}
	if req.OrderID == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "orderId is required",
		})
		return req, false
	}
	return req, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, map[string]any{"status": "ok"})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	filter := models.FeedFilter{
		IncludeArchived: r.URL.Query().Get("archive") == "true",
		BankStatus:      r.URL.Query().Get("bankStatus"),
		CreditCompany:   r.URL.Query().Get("creditCompany"),
	}

	feed, err := s.service.GetCachedFeed(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"items":    feed.Items,
		"count":    feed.Count,
		"lastSync": feed.LastSync,
		"cached":   true,
	})
}

func (s *Server) handleFeedSync(w http.ResponseWriter, r *http.Request) {
	synced, err := s.service.SyncFeedToDatabase(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"synced": synced})
}

func (s *Server) handleRemoveFeedItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("orderId"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "malformed order id",
		})
		return
	}
	if err := s.service.RemoveFeedItem(r.Context(), orderID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, nil)
}

func (s *Server) handleSendApplication(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := s.service.SubmitApplication(r.Context(), req.OrderID, req.manager())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"orderId":       result.OrderID,
		"applicationId": result.ApplicationID,
		"filesCount":    result.FilesCount,
		"filesUploaded": result.FilesUploaded,
	})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := s.service.CheckAndUpdateStatus(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"result": result})
}

func (s *Server) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.CheckAllPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := s.service.SendFilesToBank(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"orderId":       result.OrderID,
		"applicationId": result.ApplicationID,
		"filesCount":    result.FilesCount,
	})
}

func (s *Server) handleDownloadContracts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := s.service.GetContractsForDownload(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"orderId":       result.OrderID,
		"applicationId": result.ApplicationID,
		"filesCount":    len(result.Files),
		"fileNames":     result.FileNames,
	})
}

// handleContractFile streams one contract by its position in the download
// list, for the widget's per-file download links.
func (s *Server) handleContractFile(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("orderId"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "malformed order id",
		})
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "malformed file index",
		})
		return
	}

	result, err := s.service.GetContractsForDownload(r.Context(), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if index >= len(result.Files) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false, "error": "no contract file at this index",
		})
		return
	}

	file := result.Files[index]
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	w.Write(file.Data)
}

func (s *Server) handleRefuseApplication(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	if err := s.service.RefuseApplication(r.Context(), req.OrderID, req.Reason, req.manager()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"orderId": req.OrderID})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	messages, err := s.service.GetMessages(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"messages": messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	if err := s.service.SendMessage(r.Context(), req.OrderID, req.Text, req.manager()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"orderId": req.OrderID})
}

func (s *Server) handleComparisonData(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	data, err := s.service.GetComparisonData(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"comparison": data})
}

func (s *Server) handleApplicationRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	request, err := s.service.GetApplicationRequestData(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if request == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "no request data saved for this order, auditing covers new applications only",
		})
		return
	}
	s.writeSuccess(w, map[string]any{"request": request})
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	if req.Status == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "status is required",
		})
		return
	}
	if err := s.service.UpdateOrderStatus(r.Context(), req.OrderID, req.Status); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"orderId": req.OrderID, "status": req.Status})
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	applicationID := r.URL.Query().Get("applicationId")
	if applicationID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "applicationId is required",
		})
		return
	}
	history, err := s.service.GetStatusHistory(r.Context(), applicationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"applicationId": applicationID,
		"history":       history,
	})
}

type iuteWebhookRequest struct {
	OrderID     string `json:"orderId"`
	Description string `json:"description"`
}

func (s *Server) handleIuteWebhook(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req iuteWebhookRequest
		if err := decodeBody(r, &req); err != nil || req.OrderID == "" {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false, "error": "orderId is required",
			})
			return
		}
		if err := s.service.HandleIuteWebhook(r.Context(), kind, req.OrderID, req.Description); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeSuccess(w, map[string]any{"orderId": req.OrderID})
	}
}

func (s *Server) handleIuteConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleIuteWebhook("confirm")(w, r)
}

func (s *Server) handleIuteCancel(w http.ResponseWriter, r *http.Request) {
	s.handleIuteWebhook("cancel")(w, r)
}
