package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/repository"
)

// 常见可执行格式的描述，其余按 MIME 描述
var fileDescriptions = map[string]string{
	"application/vnd.microsoft.portable-executable": "PE32 executable (MS Windows)",
	"application/x-msdownload":                      "PE32 executable (MS Windows)",
	"application/x-elf":                             "ELF executable",
	"application/x-executable":                      "ELF executable",
	"application/x-sharedlib":                       "ELF shared object",
	"application/x-mach-binary":                     "Mach-O binary",
	"application/java-archive":                      "Java archive",
	"application/x-java-applet":                     "Java class file",
	"application/vnd.android.package-archive":       "Android package",
	"application/zip":                               "Zip archive data",
	"application/x-msi":                             "MSI installer",
	"application/octet-stream":                      "data",
}

type SampleService struct {
	sampleRepo   *repository.SampleRepository
	functionRepo *repository.FunctionRepository
	tagRepo      *repository.TagRepository
	store        filestore.Store
	maxSize      int64
	logger       *zap.Logger
}

func NewSampleService(
	sampleRepo *repository.SampleRepository,
	functionRepo *repository.FunctionRepository,
	tagRepo *repository.TagRepository,
	store filestore.Store,
	maxSize int64,
	logger *zap.Logger,
) *SampleService {
	return &SampleService{
		sampleRepo:   sampleRepo,
		functionRepo: functionRepo,
		tagRepo:      tagRepo,
		store:        store,
		maxSize:      maxSize,
		logger:       logger,
	}
}

// DescribeFile 识别文件类型，返回 MIME 与可读描述
func DescribeFile(data []byte) (string, string) {
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		if desc, ok := fileDescriptions[m.String()]; ok {
			return mtype.String(), desc
		}
	}
	return mtype.String(), mtype.String()
}

// Upload 以内容 MD5 为标识保存样本；已存在时返回已有记录
func (s *SampleService) Upload(ctx context.Context, userID int64, filename string, data []byte) (*dto.UploadResponse, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, ErrFileTooLarge
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.sampleRepo.GetByHash(hash)
	if err == nil {
		resp := toUploadResponse(existing)
		resp.AlreadyExists = true
		return resp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.store.Put(ctx, filestore.SampleKey(hash), data); err != nil {
		return nil, err
	}

	fileType, description := DescribeFile(data)
	sample := &model.Sample{
		Hash:            hash,
		Filename:        filepath.Base(filename),
		Size:            int64(len(data)),
		FileType:        fileType,
		FileDescription: description,
		UploaderID:      userID,
		Stage:           model.StageUploaded,
		Overview:        model.UnindexedString,
	}
	detail := &model.SampleDetail{
		FullReport: model.UnindexedString,
	}
	if err := s.sampleRepo.CreateWithDetail(sample, detail); err != nil {
		return nil, err
	}

	s.logger.Info("sample uploaded",
		zap.String("sample", hash),
		zap.String("filename", sample.Filename),
		zap.Int64("size", sample.Size),
		zap.String("filetype", fileType),
		zap.Int64("user_id", userID))

	return toUploadResponse(sample), nil
}

// List 按上传时间倒序列出样本，附带函数数量和标签
func (s *SampleService) List() ([]*dto.SampleListItem, error) {
	samples, err := s.sampleRepo.List()
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(samples))
	for i, sample := range samples {
		hashes[i] = sample.Hash
	}

	counts, err := s.functionRepo.CountBySamples(hashes)
	if err != nil {
		return nil, err
	}
	tags, err := s.tagRepo.ListBySamples(hashes)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.SampleListItem, len(samples))
	for i, sample := range samples {
		item := &dto.SampleListItem{
			MD5:             sample.Hash,
			Filename:        sample.Filename,
			FileSize:        sample.Size,
			FileType:        sample.FileType,
			FileDescription: sample.FileDescription,
			Stage:           int(sample.Stage),
			StageLabel:      sample.Stage.String(),
			Malicious:       sample.Malicious,
			Overview:        sample.Overview,
			IsPublic:        sample.IsPublic,
			FunctionCount:   counts[sample.Hash],
			Tags:            []dto.TagInfo{},
			ErrorMessage:    sample.ErrorMessage,
			CreatedAt:       sample.CreatedAt.Format(time.RFC3339),
		}
		if sample.Uploader != nil {
			item.Uploader = sample.Uploader.Username
		}
		for _, tag := range tags[sample.Hash] {
			item.Tags = append(item.Tags, dto.TagInfo{ID: tag.ID, Content: tag.Content})
		}
		items[i] = item
	}
	return items, nil
}

// Functions 按名称列出样本的函数
func (s *SampleService) Functions(hash string) ([]*dto.FunctionItem, error) {
	exists, err := s.sampleRepo.Exists(hash)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSampleNotFound
	}

	functions, err := s.functionRepo.ListBySample(hash)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.FunctionItem, len(functions))
	for i, fn := range functions {
		items[i] = &dto.FunctionItem{
			Name:        fn.Name,
			Signature:   fn.Signature,
			Source:      fn.Source,
			Description: fn.Description,
		}
	}
	return items, nil
}

func toUploadResponse(sample *model.Sample) *dto.UploadResponse {
	return &dto.UploadResponse{
		MD5:             sample.Hash,
		Filename:        sample.Filename,
		FileSize:        sample.Size,
		FileType:        sample.FileType,
		FileDescription: sample.FileDescription,
		Stage:           int(sample.Stage),
	}
}
