// Package transport serves a session.Manager to remote clients.
//
// Clients connect to GET /ws and exchange command frames:
//
//	-> {"id":1,"command":"fetch_query","args":{"query":"...","operationName":"Open","variables":{}}}
//	<- {"id":1,"result":{"pending":3}}
//	<- {"event":"next","payload":{"next":{...},"subscription":3}}
//	-> {"id":2,"command":"unsubscribe","args":{"subscription":3}}
//	<- {"id":2}
//
// Frames are JSON text frames by default, or CBOR binary frames with the
// same shape when the server is configured with CBORCodec. Each
// connection is the sink for the queries it starts; when it goes away,
// every session it still owns is unsubscribed.
package transport
