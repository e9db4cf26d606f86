package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/storage"
)

const (
	maxListedTransfers   = 50
	maxExportedTransfers = 10000

	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLS  = "application/vnd.ms-excel"
)

// allowedMimeTypes maps accepted upload types to the extension their blobs are stored under.
var allowedMimeTypes = map[string]string{
	MimeXLSX: ".xlsx",
	MimeXLS:  ".xls",
}

const (
	maxFilenameLen  = 255
	maxExtensionLen = 16
)

// dangerousExtensions are entry extensions that are blocked inside uploaded workbooks.
var dangerousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".pif": true, ".vbs": true, ".vbe": true,
	".wsf": true, ".wsh": true, ".msi": true, ".hta": true,
	".lnk": true, ".cpl": true, ".inf": true, ".reg": true,
	".dll": true, ".js": true, ".jse": true, ".ps1": true,
}

var (
	errInvalidWorkbook   = errors.New("invalid or corrupt workbook")
	errDangerousWorkbook = errors.New("workbook contains potentially dangerous content")
)

// AdminSummary is one entry of the admin roster.
type AdminSummary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ShareInput describes an uploaded file to be shared.
type ShareInput struct {
	SenderID   string
	ReceiverID string
	FileName   string
	MimeType   string
	Size       int64
	Message    string
	Content    io.Reader
}

// ShareResult is returned after a successful share.
type ShareResult struct {
	ID               string                  `json:"id"`
	FileName         string                  `json:"fileName"`
	FileSize         int64                   `json:"fileSize"`
	ReceiverUsername string                  `json:"receiverUsername"`
	Message          string                  `json:"message"`
	SentAt           time.Time               `json:"sentAt"`
	Status           database.TransferStatus `json:"status"`
}

// SharedFile is a transfer as seen by its sender or receiver.
type SharedFile struct {
	ID               string                  `json:"id"`
	FileName         string                  `json:"fileName"`
	FileSize         int64                   `json:"fileSize"`
	SenderUsername   string                  `json:"senderUsername,omitempty"`
	ReceiverUsername string                  `json:"receiverUsername,omitempty"`
	Message          string                  `json:"message"`
	SentAt           time.Time               `json:"sentAt"`
	Status           database.TransferStatus `json:"status"`
	DeliveredAt      *time.Time              `json:"deliveredAt"`
	ViewedAt         *time.Time              `json:"viewedAt"`
}

// Download is an opened transfer ready to stream. Callers must close Content.
type Download struct {
	FileName string
	MimeType string
	Size     int64
	Content  io.ReadCloser
}

// FileShareService contains the admin-to-admin file transfer logic.
type FileShareService struct {
	accounts  AccountStore
	transfers TransferStore
	store     storage.Store
	notifier  Notifier
	cfg       *config.Config
	now       func() time.Time
}

// NewFileShareService creates a new file share service. A nil notifier disables push events.
func NewFileShareService(accounts AccountStore, transfers TransferStore, store storage.Store, notifier Notifier, cfg *config.Config) *FileShareService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &FileShareService{
		accounts:  accounts,
		transfers: transfers,
		store:     store,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ListAdmins returns every admin except the caller, ordered by username.
func (s *FileShareService) ListAdmins(ctx context.Context, callerID string) ([]AdminSummary, error) {
	admins, err := s.accounts.ListAdmins(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}

	out := make([]AdminSummary, 0, len(admins))
	for _, a := range admins {
		out = append(out, AdminSummary{ID: a.ID, Username: a.Username, Email: a.Email, CreatedAt: a.CreatedAt})
	}
	return out, nil
}

// ShareFile validates and stores an uploaded workbook, records a pending
// transfer and notifies the receiver.
func (s *FileShareService) ShareFile(ctx context.Context, in ShareInput) (*ShareResult, error) {
	// 1. Cheap request checks, before reading the body
	if in.Content == nil {
		return nil, newError(ErrValidation, "No file uploaded")
	}
	if in.ReceiverID == "" {
		return nil, newError(ErrValidation, "Receiver ID is required")
	}
	blobExt, ok := allowedMimeTypes[in.MimeType]
	if !ok {
		return nil, newError(ErrValidation, "Only Excel files (.xlsx, .xls) are allowed")
	}
	if in.Size > s.cfg.MaxFileSize {
		return nil, s.TooLarge()
	}

	// 2. Resolve both parties
	sender, receiver, err := s.parties(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !receiver.IsAdmin() {
		return nil, newError(ErrValidation, "Files can only be shared with admin users")
	}

	// 3. Read at most one byte past the limit so a lying size header cannot bypass it
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(in.Content, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload data: %w", err)
	}
	if n > s.cfg.MaxFileSize {
		return nil, s.TooLarge()
	}
	data := buf.Bytes()

	// 4. OOXML workbooks are ZIP containers; inspect them
	if in.MimeType == MimeXLSX {
		if err := validateWorkbook(data); err != nil {
			slog.Warn("rejected workbook upload", "sender_id", sender.ID, "error", err)
			return nil, newError(ErrValidation, "File is not a valid Excel workbook")
		}
	}

	// 5. Store the blob under a fresh name
	now := s.now().UTC()
	originalName := sanitizeFilename(in.FileName)
	blobName := storage.BlobName(blobExt, now)

	size, err := s.store.Save(ctx, blobName, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	// 6. Create the transfer record
	transfer := &database.FileTransfer{
		ID:               uuid.NewString(),
		StoredName:       blobName,
		OriginalName:     originalName,
		StoragePath:      s.store.Location(blobName),
		Size:             size,
		MimeType:         in.MimeType,
		SenderID:         sender.ID,
		SenderUsername:   sender.Username,
		ReceiverID:       receiver.ID,
		ReceiverUsername: receiver.Username,
		Status:           database.StatusPending,
		Message:          strings.TrimSpace(in.Message),
		SentAt:           now,
	}

	if err := s.transfers.CreateTransfer(ctx, transfer); err != nil {
		// Clean up stored file on DB failure
		if derr := s.store.Delete(ctx, blobName); derr != nil {
			slog.Error("failed to remove orphaned blob", "stored_name", blobName, "error", derr)
		}
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	slog.Info("file shared",
		"transfer_id", transfer.ID,
		"sender_id", sender.ID,
		"receiver_id", receiver.ID,
		"file_name", transfer.OriginalName,
		"size", size,
	)

	// 7. Notify after commit; the record is already durable
	s.notifier.Emit(receiver.ID, EventFileReceived, FileReceivedEvent{
		ID:             transfer.ID,
		FileName:       transfer.OriginalName,
		SenderUsername: transfer.SenderUsername,
		Message:        transfer.Message,
		SentAt:         transfer.SentAt,
	})

	return &ShareResult{
		ID:               transfer.ID,
		FileName:         transfer.OriginalName,
		FileSize:         transfer.Size,
		ReceiverUsername: transfer.ReceiverUsername,
		Message:          transfer.Message,
		SentAt:           transfer.SentAt,
		Status:           transfer.Status,
	}, nil
}

// ListSent returns the caller's most recent sent transfers, newest first.
func (s *FileShareService) ListSent(ctx context.Context, senderID string) ([]SharedFile, error) {
	transfers, err := s.transfers.ListSentTransfers(ctx, senderID, maxListedTransfers)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent transfers: %w", err)
	}

	out := make([]SharedFile, 0, len(transfers))
	for _, t := range transfers {
		f := sharedFile(t)
		f.SenderUsername = ""
		out = append(out, f)
	}
	return out, nil
}

// ListReceived returns the caller's most recent received transfers, newest
// first, and advances every pending transfer of the caller to delivered.
func (s *FileShareService) ListReceived(ctx context.Context, receiverID string) ([]SharedFile, error) {
	transfers, err := s.transfers.ListReceivedTransfers(ctx, receiverID, maxListedTransfers)
	if err != nil {
		return nil, fmt.Errorf("failed to list received transfers: %w", err)
	}

	now := s.now().UTC()
	if n, err := s.transfers.MarkTransfersDelivered(ctx, receiverID, now); err != nil {
		slog.Error("failed to mark transfers delivered", "receiver_id", receiverID, "error", err)
	} else if n > 0 {
		slog.Info("transfers delivered", "receiver_id", receiverID, "count", n)
	}

	out := make([]SharedFile, 0, len(transfers))
	for _, t := range transfers {
		f := sharedFile(t)
		f.ReceiverUsername = ""
		if f.Status == database.StatusPending {
			f.Status = database.StatusDelivered
		}
		if f.DeliveredAt == nil {
			f.DeliveredAt = &now
		}
		out = append(out, f)
	}
	return out, nil
}

// Download opens a transfer for its sender or receiver. A receiver's first
// download marks the transfer viewed.
func (s *FileShareService) Download(ctx context.Context, transferID, requesterID string) (*Download, error) {
	transfer, err := s.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(ErrNotFound, "File not found")
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	if requesterID != transfer.SenderID && requesterID != transfer.ReceiverID {
		return nil, newError(ErrForbidden, "Access denied")
	}

	content, err := s.store.Open(ctx, transfer.StoredName)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			slog.Error("transfer blob missing", "transfer_id", transfer.ID, "location", transfer.StoragePath)
			return nil, newError(ErrNotFound, "File not found on server")
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if requesterID == transfer.ReceiverID && transfer.Status != database.StatusViewed {
		// Best-effort: a failed status write never blocks the download
		if _, err := s.transfers.MarkTransferViewed(ctx, transfer.ID, s.now().UTC()); err != nil {
			slog.Error("failed to mark transfer viewed", "transfer_id", transfer.ID, "error", err)
		}
	}

	return &Download{
		FileName: transfer.OriginalName,
		MimeType: transfer.MimeType,
		Size:     transfer.Size,
		Content:  content,
	}, nil
}

func (s *FileShareService) parties(ctx context.Context, senderID, receiverID string) (*database.Account, *database.Account, error) {
	sender, err := s.accounts.GetAccountByID(ctx, senderID)
	if err != nil {
		return nil, nil, accountLookupError(err)
	}
	receiver, err := s.accounts.GetAccountByID(ctx, receiverID)
	if err != nil {
		return nil, nil, accountLookupError(err)
	}
	return sender, receiver, nil
}

func (s *FileShareService) TooLarge() error {
	return newError(ErrValidation, fmt.Sprintf("File exceeds maximum allowed size of %d MB", s.cfg.MaxFileSize>>20))
}

func accountLookupError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return newError(ErrNotFound, "User not found")
	}
	return fmt.Errorf("failed to get account: %w", err)
}

func sharedFile(t *database.FileTransfer) SharedFile {
	return SharedFile{
		ID:               t.ID,
		FileName:         t.OriginalName,
		FileSize:         t.Size,
		SenderUsername:   t.SenderUsername,
		ReceiverUsername: t.ReceiverUsername,
		Message:          t.Message,
		SentAt:           t.SentAt,
		Status:           t.Status,
		DeliveredAt:      t.DeliveredAt,
		ViewedAt:         t.ViewedAt,
	}
}

// --- Helpers ---

// validateZipMagicBytes checks that data starts with the ZIP magic number (PK\x03\x04).
func validateZipMagicBytes(data []byte) error {
	if len(data) < 4 {
		return errInvalidWorkbook
	}
	if data[0] == 0x50 && data[1] == 0x4B && data[2] == 0x03 && data[3] == 0x04 {
		return nil
	}
	return errInvalidWorkbook
}

// validateWorkbook checks that data is an OOXML package and that none of
// its parts carry an executable extension.
func validateWorkbook(data []byte) error {
	if err := validateZipMagicBytes(data); err != nil {
		return err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidWorkbook, err)
	}

	var hasContentTypes bool
	for _, f := range reader.File {
		if f.Name == "[Content_Types].xml" {
			hasContentTypes = true
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if dangerousExtensions[ext] {
			return fmt.Errorf("%w: blocked extension %s in %s", errDangerousWorkbook, ext, f.Name)
		}
	}
	if !hasContentTypes {
		return fmt.Errorf("%w: missing [Content_Types].xml", errInvalidWorkbook)
	}
	return nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	// Quotes and control characters would break Content-Disposition
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)

	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len(ext) > maxExtensionLen || !utf8.ValidString(ext) {
			ext = ""
		}
		name = truncateUTF8(strings.TrimSuffix(name, ext), maxFilenameLen-len(ext)) + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "shared-file.xlsx"
	}

	return name
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
