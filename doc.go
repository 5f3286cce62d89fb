// Package goepp implements an Extensible Provisioning Protocol (EPP) client
// session as defined in RFC5730, with TCP/TLS transport per RFC5734 and the
// host object mapping of RFC5732. It also ships a small EPP server SDK used
// for conformance testing and local development.
package goepp
