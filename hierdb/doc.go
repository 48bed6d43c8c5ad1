// Package hierdb provides a client for interacting with a hierdb server over
// TCP. The server stores a tree of named entries, each of which can hold data
// and, as a directory, further entries.
//
// Example:
//
//	client, err := hierdb.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Mkdir("etc")
//	err = client.ChDir("etc")
//	err = client.Put("hosts", []byte("127.0.0.1 localhost"))
//	data, err := client.Get("hosts")
package hierdb
