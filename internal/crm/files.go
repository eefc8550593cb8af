package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pandashop/creditsync/internal/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type wireFile struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (c *Client) listFiles(ctx context.Context, orderID int64) ([]wireFile, error) {
	var result struct {
		apiResponse
		Files []wireFile `json:"files"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("filter[orderIds][]", strconv.FormatInt(orderID, 10)).
		SetQueryParam("limit", "100").
		SetResult(&result).
		Get("/api/v5/files")
	if err != nil {
		return nil, fmt.Errorf("failed to list files for order %d: %w", orderID, err)
	}
	if !resp.IsSuccess() || !result.Success {
		return nil, fmt.Errorf("file listing failed for order %d: status %d, %s",
			orderID, resp.StatusCode(), result.ErrorMessage)
	}
	return result.Files, nil
}

// GetOrderFiles downloads every attachment of an order. A file that fails to
// download is skipped with a warning so one broken attachment does not sink
// the whole submission.
func (c *Client) GetOrderFiles(ctx context.Context, orderID int64) ([]models.File, error) {
	wireFiles, err := c.listFiles(ctx, orderID)
	if err != nil {
		return nil, err
	}

	files := make([]models.File, 0, len(wireFiles))
	for _, wf := range wireFiles {
		resp, err := c.http.R().
			SetContext(ctx).
			Get(fmt.Sprintf("/api/v5/files/%d/download", wf.ID))
		if err != nil || !resp.IsSuccess() {
			c.logger.Warn("Failed to download order file",
				"order_id", orderID, "file_id", wf.ID, "error", err)
			continue
		}
		files = append(files, models.File{Name: wf.Filename, Data: resp.Body()})
	}
	return files, nil
}

// UploadFileToOrder pushes file bytes into the CRM and attaches the resulting
// file entity to the order.
func (c *Client) UploadFileToOrder(ctx context.Context, order *models.Order, file models.File) error {
	var uploadResult struct {
		apiResponse
		File wireFile `json:"file"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", file.Name, bytes.NewReader(file.Data)).
		SetResult(&uploadResult).
		Post("/api/v5/files/upload")
	if err != nil {
		return fmt.Errorf("failed to upload file %q: %w", file.Name, err)
	}
	if !resp.IsSuccess() || !uploadResult.Success {
		return fmt.Errorf("file upload rejected for %q: status %d, %s",
			file.Name, resp.StatusCode(), uploadResult.ErrorMessage)
	}

	attach, err := json.Marshal(map[string]any{
		"filename": file.Name,
		"attachment": []map[string]any{
			{"order": map[string]any{"id": order.ID}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to serialize attachment: %w", err)
	}

	var editResult apiResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"file": string(attach)}).
		SetResult(&editResult).
		Post(fmt.Sprintf("/api/v5/files/%d/edit", uploadResult.File.ID))
	if err != nil {
		return fmt.Errorf("failed to attach file %q to order %d: %w", file.Name, order.ID, err)
	}
	if !resp.IsSuccess() || !editResult.Success {
		return fmt.Errorf("file attach rejected for %q: status %d, %s",
			file.Name, resp.StatusCode(), editResult.ErrorMessage)
	}
	return nil
}

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// foldName lowercases a filename and strips combining marks so that partner
// contract names with diacritics still match the plain patterns.
func foldName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(folded)
}

var contractNamePatterns = []string{
	"contract",
	"договор",
	"client.pdf",
	"microinvest.pdf",
}

// IsContractFileName reports whether a filename looks like a signed loan
// contract rather than an ordinary order attachment.
func IsContractFileName(name string) bool {
	folded := foldName(name)
	for _, pattern := range contractNamePatterns {
		if strings.Contains(folded, pattern) {
			return true
		}
	}
	return false
}

// CheckOrderHasContractFiles reports whether the order already carries at
// least one contract-looking attachment. Used to keep contract auto-attach
// idempotent.
func (c *Client) CheckOrderHasContractFiles(ctx context.Context, orderID int64) (bool, error) {
	files, err := c.listFiles(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if IsContractFileName(f.Filename) {
			return true, nil
		}
	}
	return false, nil
}
