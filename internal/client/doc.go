// Package client is a Go client for the read-only auditd HTTP API, used by
// chainctl --server.
//
// It lists chains, asks the server to verify one, fetches records, exports
// and correlation groups:
//
//	c, err := client.New("http://localhost:8090")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Verify(ctx, "attendance/tenant-T/session-S")
//	if !res.Valid {
//	    log.Printf("chain broken at position %d: %s", res.Position, res.Reason)
//	}
//
// An export fetched with Export is not trusted on arrival. Re-check it locally
// with chain.VerifyExport before relying on it, or call VerifiedExport which
// does both:
//
//	x, err := c.VerifiedExport(ctx, "grades/tenant-T/student-S")
//
// A correlation id carried by ctx (see the correlation package) is sent in
// the X-Correlation-ID header, so server-side log lines line up with the
// caller's.
package client
