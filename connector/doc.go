/*
Package connector binds byte streams to external transports.

NewFeed turns a blocking fetch function into a stream source whose
fetches run on a background goroutine driven by the stream's pull
requests. The subpackages build on it:

  - redisstream: Redis Streams entries through internal/cache.
  - sqlchunk: ordered rows in a SQL table through internal/database.
  - natsstream: messages on a NATS JetStream subject through
    internal/natsclient.
  - wsconn: binary WebSocket messages.

Each subpackage also provides a stream.Sink so a stream can be piped
into the same transport it is read from.
*/
package connector
