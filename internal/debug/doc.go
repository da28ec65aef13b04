/*
Package debug provides APIs for conditional runtime assertions and debug
logging used across memkit.

# Using Assert

To enable runtime assertions, build with the assert tag. When the assert tag
is omitted, the code for the assertion will be omitted from the binary.
Assertions guard allocator invariants that only a bug upstream can violate,
such as a requested size at or beyond the maximum allocation bound.

# Using Log

To enable runtime debug logs, build with the debug tag. When the debug tag is
omitted, the code for logging will be omitted from the binary.
*/
package debug
