// Package governance turns batches of intended substrate mutations into
// proposals, routes them through validation, and executes approved proposals
// atomically. A proposal either commits every approved operation's effect or
// none of them; the per-operation execution log survives rejection so a
// reviewer can see exactly which operation failed and why.
package governance
