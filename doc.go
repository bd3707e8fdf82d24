// Package pgmcp exposes a PostgreSQL database to AI agents over JSON-RPC 2.0
// using the Model Context Protocol (MCP) method set.
//
// It offers one tool, query, and one read-only resource per table of the
// public schema (postgres:///<table>, capped at 100 rows). Every column
// value is marshalled into a typed JSON value without loss: integers stay
// exact, decimals become strings of their digits, timestamps become sortable
// ISO-8601 text, json and jsonb pass through unmodified.
//
// Writes are refused unless the session's policy allows them. The check is
// lexical: a statement (or any statement of a batch) whose leading keyword
// is INSERT, UPDATE, DELETE, CREATE, DROP, ALTER, TRUNCATE, GRANT or REVOKE
// is a write. It is best-effort and does not see mutations inside CTEs or
// function calls; the pgx driver additionally opens read-only sessions when
// writes are off.
//
// Result cells can be redacted by regex sanitization rules before they leave
// the engine.
//
// # Wiring
//
// The drivers live under internal/store; cmd/gopgmcp assembles them like this:
//
//	driver, err := pgxstore.New(ctx, connString, pgxstore.Config{ReadOnly: true}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine, err := pgmcp.New(driver, pgmcp.Config{}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	// Use directly
//	output, err := engine.Query(ctx, pgmcp.QueryInput{SQL: "SELECT * FROM users LIMIT 10"}, pgmcp.Policy{})
//
//	// Or speak JSON-RPC, one Session per connection
//	dispatcher, err := pgmcp.NewDispatcher(engine)
//	session := engine.NewSession()
//	reply := dispatcher.HandleMessage(ctx, session, message)
//
// Before initialize completes a session answers only initialize and ping;
// every other known method fails with code -32002.
package pgmcp
