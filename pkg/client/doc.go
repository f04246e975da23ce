// Package client provides a Go SDK for the coordinator's admin HTTP API.
//
// Every method issues a direct HTTP request and decodes the JSON response;
// there is no generated base client underneath it.
//
// # Basic Usage
//
//	c := client.New("http://localhost:8080")
//
//	task, err := c.CreateTask(ctx, handlers.CreateTaskRequest{
//	    TaskId:  "20160128_214710_00012_rk68b.1.0.0",
//	    TaskURI: "http://worker-7:8080/v1/task",
//	})
//
// # Live Events
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("event: %s\n", event.Type)
//	}
//
// # Configuration
//
//	c := client.New("http://localhost:8080",
//	    client.WithAPIKey("operator-token"),
//	    client.WithTimeout(10*time.Second),
//	)
package client
