package session

import "github.com/trezcool/proxyguard/core"

// NewServiceMock returns a Service sending notifications synchronously.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	svc := NewService(repo, mailSvc, conf, core.NopLogger())
	svc.async = false
	return svc
}
