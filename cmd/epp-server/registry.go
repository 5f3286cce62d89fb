package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/vitalvas/goepp"
	"github.com/vitalvas/goepp/internal/logging"
)

// registry is an in-memory host object repository.
type registry struct {
	clientID string
	password string
	logger   *zap.Logger

	mu    sync.Mutex
	hosts map[string]bool // canonical name -> linked to a domain
}

func newRegistry(clientID, password string, hosts, linked []string, logger *zap.Logger) (*registry, error) {
	r := &registry{
		clientID: clientID,
		password: password,
		logger:   logger,
		hosts:    make(map[string]bool),
	}

	for _, h := range hosts {
		name, err := canonicalHost(h)
		if err != nil {
			return nil, err
		}
		r.hosts[name] = false
	}
	for _, h := range linked {
		name, err := canonicalHost(h)
		if err != nil {
			return nil, err
		}
		r.hosts[name] = true
	}

	return r, nil
}

// canonicalHost lowercases a host name and strips the root label.
func canonicalHost(name string) (string, error) {
	name = strings.TrimSpace(name)
	if _, ok := dns.IsDomainName(name); !ok || name == "" || name == "." {
		return "", fmt.Errorf("invalid host name %q", name)
	}
	return strings.TrimSuffix(dns.CanonicalName(name), "."), nil
}

// HandleLogin implements goepp.LoginHandler.
func (r *registry) HandleLogin(_ context.Context, req *goepp.LoginRequest) *goepp.Response {
	if req.Login.ClientID != r.clientID || req.Login.Password != r.password {
		r.logger.Info("login rejected", zap.String("client_id", req.Login.ClientID), logging.Addr(req.RemoteAddr.String()))
		return &goepp.Response{Code: goepp.ResultAuthenticationError, Message: "Authentication error"}
	}

	r.logger.Info("login accepted", zap.String("client_id", req.Login.ClientID), logging.Addr(req.RemoteAddr.String()))
	return &goepp.Response{Code: goepp.ResultSuccess, Message: "Command completed successfully"}
}

// HandleCommand implements goepp.CommandHandler.
func (r *registry) HandleCommand(_ context.Context, req *goepp.CommandRequest) *goepp.Response {
	del, ok := req.Command.(*goepp.HostDelete)
	if !ok {
		return &goepp.Response{Code: goepp.ResultCommandFailed, Message: "Command failed", Reason: "unsupported command"}
	}

	name, err := canonicalHost(del.Name)
	if err != nil {
		return &goepp.Response{Code: goepp.ResultParameterSyntaxError, Message: "Parameter value syntax error", Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	linked, exists := r.hosts[name]
	switch {
	case !exists:
		r.logger.Info("host delete", logging.HostName(name), logging.ResultCode("2303"))
		return &goepp.Response{Code: goepp.ResultObjectDoesNotExist, Message: "Object does not exist"}
	case linked:
		r.logger.Info("host delete", logging.HostName(name), logging.ResultCode("2305"))
		return &goepp.Response{
			Code:    goepp.ResultObjectAssociationProhibits,
			Message: "Object association prohibits operation",
			Reason:  "host is linked to a domain",
		}
	}

	delete(r.hosts, name)
	r.logger.Info("host delete", logging.HostName(name), logging.ResultCode("1000"))
	return &goepp.Response{Code: goepp.ResultSuccess, Message: "Command completed successfully"}
}
