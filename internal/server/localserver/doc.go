// Package localserver serves RESP on a Unix domain socket for local
// tooling such as workingdb-cli.
//
// Access is controlled by file system permissions: the socket is created
// with mode 0600, so only the server's user can connect. A stale socket
// left behind by a crashed process is removed on start; a socket with a
// live listener behind it is an error.
package localserver
