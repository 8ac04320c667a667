package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
)

// TestPassword fixtures 创建的用户的明文密码
const TestPassword = "password123"

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", time.Now().UnixNano()),
		PasswordHash: string(hash),
		Role:         model.RoleUser,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithRole 设置角色
func WithRole(role string) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// HashOf 计算内容的 MD5
func HashOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// TestSample 创建测试样本及其详情行
func TestSample(t *testing.T, db *gorm.DB, uploaderID int64, opts ...func(*model.Sample, *model.SampleDetail)) *model.Sample {
	t.Helper()

	content := []byte(fmt.Sprintf("sample-%d", time.Now().UnixNano()))
	sample := &model.Sample{
		Hash:            HashOf(content),
		Filename:        "sample.exe",
		Size:            int64(len(content)),
		FileType:        "application/vnd.microsoft.portable-executable",
		FileDescription: "PE32 executable",
		UploaderID:      uploaderID,
		Stage:           model.StageUploaded,
		Overview:        model.UnindexedString,
	}
	detail := &model.SampleDetail{
		FullReport: model.UnindexedString,
	}

	for _, opt := range opts {
		opt(sample, detail)
	}
	detail.Hash = sample.Hash

	if err := db.Create(sample).Error; err != nil {
		t.Fatalf("Failed to create test sample: %v", err)
	}
	if err := db.Create(detail).Error; err != nil {
		t.Fatalf("Failed to create test sample detail: %v", err)
	}

	return sample
}

// WithHash 设置样本哈希
func WithHash(hash string) func(*model.Sample, *model.SampleDetail) {
	return func(s *model.Sample, _ *model.SampleDetail) {
		s.Hash = hash
	}
}

// WithStage 设置样本阶段
func WithStage(stage model.Stage) func(*model.Sample, *model.SampleDetail) {
	return func(s *model.Sample, _ *model.SampleDetail) {
		s.Stage = stage
	}
}

// WithOverview 设置样本概述
func WithOverview(overview string) func(*model.Sample, *model.SampleDetail) {
	return func(s *model.Sample, _ *model.SampleDetail) {
		s.Overview = overview
	}
}

// WithReport 设置完整报告
func WithReport(report string) func(*model.Sample, *model.SampleDetail) {
	return func(_ *model.Sample, d *model.SampleDetail) {
		d.FullReport = report
	}
}

// TestFunctions 为样本写入函数，source 为 name -> C 代码
func TestFunctions(t *testing.T, db *gorm.DB, hash string, source map[string]string) []*model.Function {
	t.Helper()

	functions := make([]*model.Function, 0, len(source))
	for name, c := range source {
		functions = append(functions, &model.Function{
			SampleHash:  hash,
			Name:        name,
			Source:      c,
			Signature:   "void " + name + "(void)",
			Description: model.UnindexedString,
		})
	}

	if len(functions) > 0 {
		if err := db.Create(&functions).Error; err != nil {
			t.Fatalf("Failed to create test functions: %v", err)
		}
	}

	return functions
}

// TestTag 创建测试标签
func TestTag(t *testing.T, db *gorm.DB, id, content string) *model.Tag {
	t.Helper()

	tag := &model.Tag{ID: id, Content: content}
	if err := db.Create(tag).Error; err != nil {
		t.Fatalf("Failed to create test tag: %v", err)
	}

	return tag
}
