// Package gluedoc is the Composition Root for Glue session documents.
//
// It connects the replicated session model (pkg/session) with the storage
// adapters (pkg/adapters) and the relay (pkg/relay).
//
// Features:
//
//   - **Replicated Sessions**: contents, attributes, datasets, links and tabs of
//     viewer items live in a CRDT document that converges across clients.
//   - **Reactive**: typed signals fire once per transaction with the changed keys.
//   - **Awareness**: per-client ephemeral state such as the selected tab.
//   - **Durable**: snapshots in `.glu` files, incremental history in SQLite.
//   - **Typed Contents**: generic wrapper (`NewContents[T]`) over the contents map.
//
// Usage:
//
//	svc, err := gluedoc.New("./sessions",
//		gluedoc.WithAutoInit(true),
//		gluedoc.WithUpdateLog("updates.db"),
//	)
//
//	doc, err := svc.Create(ctx, "analysis")
//	tab := doc.AddTab()
//	err = svc.Save(ctx, "analysis")
package gluedoc
