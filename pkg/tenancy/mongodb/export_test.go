package mongodb

var CreateError = createError
