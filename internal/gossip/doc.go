/*
Package gossip is the Gossip Service: one publish/subscribe topic per lapp
that opted into peer messaging.

The wire is a Transport. MemoryTransport is an in-process bus for single
node setups and tests; RedisTransport uses redis pub/sub with one channel
per lapp and a sonic-encoded Message envelope. Since a peer never receives
its own messages, memory gossip only connects Services that share one
MemoryTransport; reaching other servers takes redis.

Inbound messages are handed to the lapp's p2p_handler through a Resolver,
normally the Lapps Manager. Delivery is best-effort: unresolvable lapps,
failing invokes and messages this peer sent itself are logged and dropped.
Join, Leave and Publish failures are returned to the caller and never
retried.
*/
package gossip
