package summary

const eol = "\r\n"
