package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitalvas/goepp"
	"github.com/vitalvas/goepp/internal/logging"
)

// checker runs the host delete scenario against one server.
type checker struct {
	out     *report
	logger  *zap.Logger
	metrics *goepp.Metrics
}

// run connects, logs in, deletes host and logs out. It reports true when
// the delete succeeded and the logout was acknowledged with 1500.
func (c *checker) run(ctx context.Context, conn goepp.ConnectionConfig, creds goepp.Credentials, host string) bool {
	s, err := goepp.NewSession(conn, creds,
		goepp.WithLogger(c.logger),
		goepp.WithMetrics(c.metrics),
	)
	if err != nil {
		c.out.failed("Session FAILED - %v", err)
		return false
	}

	if err := s.Open(ctx); err != nil {
		c.out.failed("Connect FAILED - %v", err)
		c.close(ctx, s)
		return false
	}

	rec, err := s.Login(ctx)
	switch {
	case err != nil:
		c.out.failed("Login FAILED - %v", err)
		c.close(ctx, s)
		return false
	case !rec.IsSuccess():
		c.out.failed("Login FAILED - %s", rec)
		c.close(ctx, s)
		return false
	}

	rec, err = s.Execute(ctx, &goepp.HostDelete{Name: host})
	switch {
	case err != nil:
		c.out.failed("Host Delete (%s) FAILED - %v", host, err)
		c.close(ctx, s)
		return false
	case rec.IsFailure():
		c.out.failed("Host Delete FAILED - %s", rec)
		c.close(ctx, s)
		return false
	case !rec.IsSuccess():
		c.out.failed("Host Delete (%s) FAILED - ResultCode != 1000 or 1001 (%s)", host, rec.Code)
		c.close(ctx, s)
		return false
	}
	c.out.ok("Host Delete (%s) OK - ResultCode = %s", host, rec.Code)
	c.logger.Debug("host deleted", logging.HostName(host), logging.ResultCode(rec.Code), logging.ClTRID(rec.ClTRID))

	c.close(ctx, s)

	last := s.LastResult()
	if last == nil || !last.IsEnding() {
		code := ""
		if last != nil {
			code = last.Code
		}
		c.out.failed("Disconnect FAILED - ResultCode != 1500 (%s)", code)
		return false
	}
	c.out.ok("Logout OK - ResultCode = %s", last.Code)

	return true
}

func (c *checker) close(ctx context.Context, s *goepp.Session) {
	if err := s.Close(ctx); err != nil {
		c.logger.Warn("release connection", zap.Error(err))
	}
}
