// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobStore 是制品落盘所依赖的对象存储接口，由 pkg/storage 的 MinIO 客户端实现。
type BlobStore interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) error
	SignedReadURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// StagedArtifact 描述一个已持久化的制品，签发后不可变。
type StagedArtifact struct {
	URL         string
	ObjectName  string
	ContentType string
	Size        int
}

// StagingError 表示制品未能持久化。
type StagingError struct {
	Reason string
	Err    error
}

func (e *StagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to stage artifact: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to stage artifact: %s", e.Reason)
}

func (e *StagingError) Unwrap() error { return e.Err }

// ArtifactService 将生成的图像（远程 URL 或 base64 数据）转存到对象存储，
// 并返回一个可公开解析的 URL。
type ArtifactService interface {
	Stage(ctx context.Context, payload string) (*StagedArtifact, error)
}

type artifactService struct {
	store     BlobStore
	fetcher   *http.Client
	urlExpiry time.Duration
}

// NewArtifactService 创建一个新的 ArtifactService 实例。
// urlExpiry 是签发的读 URL 的有效期，对本应用而言应远大于会话的生命周期。
func NewArtifactService(store BlobStore, urlExpiry time.Duration) ArtifactService {
	return &artifactService{
		store:     store,
		fetcher:   &http.Client{Timeout: 60 * time.Second},
		urlExpiry: urlExpiry,
	}
}

const defaultImageExtension = "png"

var dataURLPrefix = regexp.MustCompile(`^data:image/(\w+);base64,`)

// Stage 接收一个图像载荷（URL 或 base64 字符串），统一转换为字节后
// 以全局唯一的文件名上传，并签发限时可读的 URL。
func (s *artifactService) Stage(ctx context.Context, payload string) (*StagedArtifact, error) {
	var (
		data        []byte
		contentType string
		extension   string
		err         error
	)

	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		data, contentType, extension, err = s.fetchRemote(ctx, payload)
	} else {
		data, contentType, extension, err = decodeInline(payload)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s.%s", uuid.New().String(), extension)

	if err := s.store.Upload(ctx, filename, data, contentType); err != nil {
		return nil, &StagingError{Reason: "upload failed", Err: err}
	}

	readURL, err := s.store.SignedReadURL(ctx, filename, s.urlExpiry)
	if err != nil {
		return nil, &StagingError{Reason: "signed url issuance failed", Err: err}
	}

	return &StagedArtifact{
		URL:         readURL,
		ObjectName:  filename,
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

// fetchRemote 拉取远程图像的字节，内容类型取自响应头，扩展名取自 URL 路径。
func (s *artifactService) fetchRemote(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", &StagingError{Reason: "invalid artifact url", Err: err}
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return nil, "", "", &StagingError{Reason: "fetch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", &StagingError{Reason: fmt.Sprintf("fetch returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", &StagingError{Reason: "read body failed", Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/" + defaultImageExtension
	}

	return data, contentType, extensionFromURL(rawURL), nil
}

// decodeInline 解码 base64 图像数据，剥离可能存在的 data-URL 前缀，
// 并从前缀元数据推断内容类型，缺省为 png。
func decodeInline(payload string) ([]byte, string, string, error) {
	extension := defaultImageExtension
	if match := dataURLPrefix.FindStringSubmatch(payload); match != nil {
		extension = match[1]
		payload = payload[len(match[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", "", &StagingError{Reason: "base64 decode failed", Err: err}
	}

	return data, "image/" + extension, extension, nil
}

// extensionFromURL 从 URL 路径推断文件扩展名，剥离查询串，缺省为 png。
func extensionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultImageExtension
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return defaultImageExtension
	}
	return ext
}
