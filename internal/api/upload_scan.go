package api

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// uploadScanner 在文件进入对象存储之前做三道检查：大小、MIME 白名单、病毒扫描。
// ClamdAddr 为空时跳过病毒扫描（本地开发环境）。
type uploadScanner struct {
	ClamdAddr     string
	MaxBytes      int64
	MIMEWhitelist []string
	Logger        *slog.Logger
}

var errMaliciousFile = fmt.Errorf("malicious file detected")

func (s *uploadScanner) Check(header *multipart.FileHeader) error {
	if s.MaxBytes > 0 && header.Size > s.MaxBytes {
		return fmt.Errorf("file %q exceeds size limit", header.Filename)
	}

	if len(s.MIMEWhitelist) > 0 {
		contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
		allowed := false
		for _, mime := range s.MIMEWhitelist {
			if contentType == mime {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("file %q has unsupported content type %q", header.Filename, contentType)
		}
	}

	if strings.TrimSpace(s.ClamdAddr) == "" {
		return nil
	}
	return s.scan(header)
}

func (s *uploadScanner) scan(header *multipart.FileHeader) error {
	fileReader, err := header.Open()
	if err != nil {
		return fmt.Errorf("open file for scanning: %w", err)
	}
	defer fileReader.Close()

	clamdClient := clamd.NewClamd(s.ClamdAddr)

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	if err != nil {
		return fmt.Errorf("scan file: %w", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			if s.Logger != nil {
				s.Logger.Warn("upload rejected by virus scan",
					slog.String("file", header.Filename),
					slog.String("status", result.Status),
				)
			}
			return errMaliciousFile
		}
	}
	return nil
}
