// Maildrop is an inbound SMTP server that spools accepted mail into a
// maildir tree.
//
// # Server
//
// Create a server using the fluent builder API:
//
//	server, err := maildrop.New("mx.example.com").
//	    Port(2525).
//	    Workers(4).
//	    Maildir("/var/spool/maildrop").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.ListenAndServe(); err != maildrop.ErrServerClosed {
//	    log.Fatal(err)
//	}
//
// One master goroutine accepts connections and hands each to the least
// loaded worker over a socket pair. Every worker runs a poll(2) loop over
// its own sessions, so a session never migrates between workers.
//
// # Sessions
//
// Each session walks the RFC 5321 command sequence:
//
//	INIT --HELO/EHLO--> GREETED --MAIL--> MAIL --RCPT--> RCPT --DATA--> DATA
//
// The end-of-data marker returns the session to GREETED. RSET clears the
// transaction from any state except DATA, and QUIT closes the session after
// the 221 reply has been written. Commands that arrive out of order get 503.
//
// # Spool
//
// Message data is written to <root>/tmp/ while it arrives. At the end of
// data the file is moved to <root>/cur/ when every recipient is in the
// server's own domain, to <root>/relay/ when none is, and placed in both
// when the recipients are mixed. See package maildir.
//
// # Configuration
//
// ServerConfig can be filled from a TOML file with LoadConfigFile; the
// maildrop command layers its flags over the file.
package maildrop
