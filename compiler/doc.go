/*

Process of compilation

Client front end ->
	ir.Builder ->
Intermediate Representation (ir) ->
	opt passes (machine independent) ->
Intermediate Representation (ir) ->
	backend prepare + codegen ->
Assembly Text ->
	external assembler and linker ->
Binary Executable

The library covers the middle: it takes a typed SSA module built
through the builder api and produces assembly text for the selected
architecture and abi. Assembling and linking stay external.

*/
package compiler
