// Package spider defines the configuration document shared by the console
// components: per-spider records, the ordered unit mapping, the compiled-in
// default registry, the remote API contract and the error taxonomy.
//
// Everything in this package is plain data plus small helpers; it must not
// import transport, storage or logging packages.
package spider
