package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"job-agent-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage 对象存储接口。本系统只存简历版本的文本快照：
// 每个简历commit hash对应一份实际发出的简历文本，用于事后归因。
type ObjectStorage interface {
	// UploadResumeSnapshot 按commit hash上传简历文本快照，返回对象路径
	UploadResumeSnapshot(ctx context.Context, commitHash string, text string) (string, error)

	// GetResumeSnapshot 按对象路径取回简历文本快照
	GetResumeSnapshot(ctx context.Context, objectName string) (string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client       *minio.Client
	cfg          *config.MinIOConfig
	resumeBucket string
	logger       *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("[MinIO] Initialization failed: %v", err)
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	resumeBucket := cfg.ResumeBucket
	if resumeBucket == "" {
		resumeBucket = "resume-snapshots" // 默认值
	}

	m := &MinIO{
		client:       client,
		cfg:          cfg,
		resumeBucket: resumeBucket,
		logger:       logger,
	}

	if err := m.ensureBucketExists(resumeBucket, cfg.Location); err != nil {
		logger.Printf("[MinIO] Failed to ensure bucket %s exists: %v", resumeBucket, err)
		return nil, fmt.Errorf("确保简历快照存储桶 %s 存在失败: %w", resumeBucket, err)
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucketExists 确保存储桶存在，不存在则创建
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	ctx := context.Background()
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location})
	if err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	m.logger.Printf("[MinIO] Created bucket: %s", bucketName)
	return nil
}

// snapshotObjectName 简历快照的对象路径，按commit hash定位
func snapshotObjectName(commitHash string) string {
	return fmt.Sprintf("variants/%s.txt", commitHash)
}

// UploadResumeSnapshot 按commit hash上传简历文本快照。
// 同一hash重复上传会覆盖为相同内容，天然幂等。
func (m *MinIO) UploadResumeSnapshot(ctx context.Context, commitHash string, text string) (string, error) {
	if commitHash == "" {
		return "", fmt.Errorf("commitHash 不能为空")
	}
	objectName := snapshotObjectName(commitHash)
	reader := bytes.NewReader([]byte(text))

	_, err := m.client.PutObject(ctx, m.resumeBucket, objectName, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("上传简历快照失败: %w", err)
	}
	return objectName, nil
}

// GetResumeSnapshot 按对象路径取回简历文本快照
func (m *MinIO) GetResumeSnapshot(ctx context.Context, objectName string) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("objectName 不能为空")
	}
	obj, err := m.client.GetObject(ctx, m.resumeBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("获取简历快照失败: %w", err)
	}
	defer obj.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, obj); err != nil {
		return "", fmt.Errorf("读取简历快照内容失败: %w", err)
	}
	return sb.String(), nil
}
