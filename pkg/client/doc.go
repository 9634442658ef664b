// Package client is the entry point of the SDK: one Client per catalog and
// credential, exposing the catalog operations.
//
// The client wires together:
//
//   - auth: token generation and validation for the session
//   - transport: HTTP calls with timeout and error classification
//   - stream: decoding of tool event streams
//   - lineage: bulk lineage queries and object-type filtering
//   - telemetry: timing and background reporting of tool calls
//
// # Creating a Client
//
//	c, err := client.New("https://catalog.example.com",
//	    auth.ServiceAccount{ClientID: id, ClientSecret: secret},
//	    client.WithDistVersion("mydist-1.0"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
// # Operations
//
//	answer, err := c.GetContext(ctx, "Which tables hold customer orders?", nil)
//
//	result, err := c.GetLineage(ctx, lineage.Request{
//	    RootNodes: []lineage.RootNode{{ID: lineage.IntID(42), OType: "table"}},
//	    Direction: lineage.Downstream,
//	})
//
// Tool streams are consumed either as a whole or event by event:
//
//	final, err := c.RunTool(ctx, "catalog_search", payload)
//
//	s, err := c.CallTool(ctx, "catalog_search", payload)
//	for ev := range s.Events() {
//	    ...
//	}
//
// # Configuration
//
// A Config can be read from YAML with LoadConfig and passed with WithConfig.
// Unset fields keep the values of DefaultConfig.
package client
