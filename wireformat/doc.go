// Package wireformat defines the binary encodings that cross the host/guest
// boundary: the options blob delivered to configure, the length-prefixed
// input frame handed to parse and the versioned result buffer a guest
// returns. These layouts are the ABI contract and must stay stable; any
// change to the result layout bumps OutputVersion.
package wireformat
